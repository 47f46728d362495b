package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File stores tokens as a YAML map in a single 0600 file.
type File struct {
	path string
}

// NewFile returns a file store for dir/tokens.yaml.
func NewFile(dir string) *File {
	return &File{path: filepath.Join(dir, TokensFile)}
}

// Path returns the token file location.
func (f *File) Path() string { return f.path }

func (f *File) Get(name string) (string, error) {
	tokens, err := f.read()
	if err != nil {
		return "", err
	}
	v, ok := tokens[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *File) Set(name, value string) error {
	return f.update(func(tokens map[string]string) {
		tokens[name] = value
	})
}

func (f *File) Delete(name string) error {
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return f.update(func(tokens map[string]string) {
		delete(tokens, name)
	})
}

func (f *File) Name() string { return "file (" + f.path + ")" }

func (f *File) read() (map[string]string, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	// A widened mode means the tokens may have leaked.
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s has permissions %04o (expected 0600).\n"+
			"  The tokens may have been exposed. To fix:\n"+
			"  1. chmod 600 %s\n"+
			"  2. Consider rotating the tokens: asrtt reset-config",
			ErrInsecurePermissions, f.path, perm, f.path)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	tokens := map[string]string{}
	if err := yaml.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	return tokens, nil
}

// update applies fn under an exclusive lock so concurrent setup runs do not
// lose each other's writes.
func (f *File) update(fn func(map[string]string)) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	lockPath := f.path + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("creating lock file: %w", err)
	}
	// The lock file stays in place: unlinking it would let a waiter and a
	// newcomer lock different inodes.
	defer lf.Close()

	unlock, err := lockFile(lf)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	defer unlock()

	tokens, err := f.read()
	if err != nil {
		return err
	}
	fn(tokens)

	data, err := yaml.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encoding token file: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}
