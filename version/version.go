package version

const (
	ProductName = "dbridge"
	Version     = "0.1.0"

	// Protocol is the bridge wire protocol revision exchanged in the
	// carrier handshake.
	Protocol = 0x01000000
)
