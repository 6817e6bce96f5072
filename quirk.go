package usbtmc

// QuirkPredicate decides, given a device's VID/PID, whether the classic
// read path (sync_io.go) should use the single-REQUEST multi-buffer read
// behavior some instruments require instead of issuing one
// REQUEST_DEV_DEP_MSG_IN per read chunk. Device enumeration and the actual
// vendor-quirk table are out of scope for this package's core; callers
// that need the real table supply their own predicate, or use
// KnownRigolQuirk as a starting point.
type QuirkPredicate func(vid, pid uint16) bool

// NoQuirk never reports a quirk; it is the default when a Device is built
// without an explicit QuirkPredicate.
func NoQuirk(vid, pid uint16) bool { return false }

// rigolVID is Rigol Technologies' USB vendor ID.
const rigolVID = 0x1AB1

// rigolQuirkPIDs lists the Rigol product IDs historically documented as
// needing the single-REQUEST multi-buffer read behavior (DS/DSA/MSO
// families). This is a convenience default, not the thing under test: the
// engine itself only ever consults the QuirkPredicate it was given.
var rigolQuirkPIDs = map[uint16]bool{
	0x04CE: true, // DS1000Z-family
	0x04B0: true, // DS2000-family
	0x0588: true, // DS1000-family (older)
	0x04B1: true, // DSA-family
	0x0640: true, // MSO-family
}

// KnownRigolQuirk reports true for the Rigol VID/PID pairs this package
// ships as a convenience default.
func KnownRigolQuirk(vid, pid uint16) bool {
	if vid != rigolVID {
		return false
	}
	return rigolQuirkPIDs[pid]
}
