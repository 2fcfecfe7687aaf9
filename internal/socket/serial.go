package socket

import (
	"strings"
)

// Unhex decodes ASCII hex digits. Any other character poisons the whole
// decode to 0xffffffff, which no length check accepts.
func Unhex(data []byte) uint32 {
	var n uint32
	for _, c := range data {
		var d uint32
		switch {
		case c >= '0' && c <= '9':
			d = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint32(c-'A') + 10
		default:
			return 0xffffffff
		}
		n = n<<4 | d
	}
	return n
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// SkipHostSerial finds the ':' separating the target serial from the
// command that follows it. Serial formats:
//
//	[tcp:|udp:]<serial>[:<port>]:<command>
//	<prefix>:<serial>:<command>
//
// where <port> is base-10 and <prefix> is one of usb, product, model,
// device. Returns the index of the ':' just before <command>, or -1.
func SkipHostSerial(service string) int {
	for _, prefix := range []string{"usb:", "product:", "model:", "device:"} {
		if strings.HasPrefix(service, prefix) {
			idx := strings.IndexByte(service[len(prefix):], ':')
			if idx < 0 {
				return -1
			}
			return len(prefix) + idx
		}
	}
	offset := 0
	// Connection-protocol prefixes are not part of the serial.
	if strings.HasPrefix(service, "tcp:") || strings.HasPrefix(service, "udp:") {
		offset = 4
	}
	// A bracketed IPv6 literal may contain colons of its own.
	if offset < len(service) && service[offset] == '[' {
		if end := strings.IndexByte(service[offset:], ']'); end >= 0 {
			offset += end
		}
	}
	rest := service[offset:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return -1
	}
	// A run of decimal digits terminated by another ':' is a port and
	// belongs to the serial; otherwise the first ':' is the separator.
	serialEnd := colon
	if colon+1 < len(rest) && isDigit(rest[colon+1]) {
		i := colon + 1
		for i < len(rest) && isDigit(rest[i]) {
			i++
		}
		if i < len(rest) && rest[i] == ':' {
			serialEnd = i
		}
	}
	return offset + serialEnd
}
