package audit

import (
	"strings"
	"unicode"
)

// EventForMethod returns the audit category for a gRPC full method name,
// e.g. /cryptoforum.auth.v1.AuthService/SignIn -> auth.sign_in.
func EventForMethod(fullMethod string) string {
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return "unknown"
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return snake(method)
	}
	return serviceToResource(beforeSlash[dot+1:]) + "." + snake(method)
}

func serviceToResource(serviceName string) string {
	// AuthService -> auth
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return snake(s)
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
