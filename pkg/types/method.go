package types

import "fmt"

// Method is a single verb expressed as its permission-mask bit. A Method
// value with more than one bit set is a mask; the same type serves both
// uses so permission checks are a plain bitwise AND.
type Method uint16

const (
	MethodHead Method = 1 << iota
	MethodGet
	MethodPost // reserved, never granted
	MethodPut
	MethodPatch
	MethodDelete
	MethodOptions
	MethodLocate
	MethodDefine

	methodBits = 9
)

// MaskAll covers every defined verb bit. A header mask with bits outside
// MaskAll is malformed.
const MaskAll Method = 1<<methodBits - 1

// MaskRead covers the side-effect-free verbs.
const MaskRead = MethodHead | MethodGet | MethodOptions | MethodLocate

// MaskWrite covers the state-mutating verbs.
const MaskWrite = MethodPut | MethodPatch | MethodDelete | MethodDefine

func (m Method) String() string {
	switch m {
	case MethodHead:
		return "HEAD"
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	case MethodPatch:
		return "PATCH"
	case MethodDelete:
		return "DELETE"
	case MethodOptions:
		return "OPTIONS"
	case MethodLocate:
		return "LOCATE"
	case MethodDefine:
		return "DEFINE"
	}
	return fmt.Sprintf("Method(%#x)", uint16(m))
}

func ParseMethod(s string) (Method, error) {
	switch s {
	case "HEAD":
		return MethodHead, nil
	case "GET":
		return MethodGet, nil
	case "POST":
		return MethodPost, nil
	case "PUT":
		return MethodPut, nil
	case "PATCH":
		return MethodPatch, nil
	case "DELETE":
		return MethodDelete, nil
	case "OPTIONS":
		return MethodOptions, nil
	case "LOCATE":
		return MethodLocate, nil
	case "DEFINE":
		return MethodDefine, nil
	}
	return 0, fmt.Errorf("unknown method %q", s)
}

// In reports whether every bit of m is present in mask.
func (m Method) In(mask Method) bool {
	return m != 0 && mask&m == m
}

// IsWrite reports whether the verb mutates state.
func (m Method) IsWrite() bool {
	return m.In(MaskWrite)
}

// ValidMask reports whether m is a legal allowed-methods mask: nonzero and
// within the defined bit width.
func ValidMask(m Method) bool {
	return m != 0 && m&^MaskAll == 0
}
