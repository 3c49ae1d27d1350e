package errors

// ============================================================================
// 修复建议
// ============================================================================

var suggestions = map[string][]string{
	J1001: {"the IR contains an opcode the s390x emitter does not implement"},
	J1002: {"check the parameter type tags of the method signature"},
	J1003: {"an instruction emitted more bytes than its declared maximum length"},
	J1004: {"patch offsets must fall inside the method code"},
	J1005: {"register numbers must be 0-15 and displacements must fit their encoding"},
	J1006: {"saved registers must be contiguous and the LMF must fit inside the frame"},

	J2001: {
		"split the method or raise backend.max_method_size",
	},
	J2002: {
		"raise backend.arena_size",
		"methods that failed to compile still consume arena space until the compiler is recreated",
	},
	J2003: {"the trigger pages could not be mapped"},
	J2004: {"the operating system refused to change page protection"},

	J3001: {
		"define the callee before compiling the caller",
		"runtime symbols must be provided by the host",
	},
	J3002: {"the target is farther than a relative branch can reach; use an absolute call"},
	J3003: {"every branch target must be a block of the same method"},
}

// Suggestions 错误码对应的修复建议
func Suggestions(code string) []string {
	return suggestions[code]
}
