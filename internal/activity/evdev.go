package activity

// DefaultDevicePattern matches the Linux event device nodes.
const DefaultDevicePattern = "/dev/input/event*"

// Evdev reads pointer and keyboard activity straight from Linux input
// devices. Reading them usually requires membership in the "input" group.
type Evdev struct {
	// Pattern is a glob of device nodes to read. Empty means
	// DefaultDevicePattern.
	Pattern string
}

func (e *Evdev) pattern() string {
	if e.Pattern == "" {
		return DefaultDevicePattern
	}
	return e.Pattern
}

// Default returns the activity source for this platform.
func Default() Source {
	return &Evdev{}
}
