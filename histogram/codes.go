package histogram

// Error codes specific to the histogram core, layered onto the shared
// errors.Error type the same way errors.CodeValidation etc. are defined.
const (
	CodeValidation    = "histogram_validation"
	CodeCorruption    = "histogram_corruption"
	CodeMismatch      = "histogram_mismatch"
	CodeExhausted     = "histogram_exhausted"
	CodeWireFormat    = "histogram_wire_format"
	CodeAllocatorFull = "histogram_allocator_full"
)
