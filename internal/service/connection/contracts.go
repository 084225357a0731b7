package connection

// Request methods served by the connection service.
const (
	MethodConnect    = "connection/connect"
	MethodDisconnect = "connection/disconnect"
)

// ConnectionDetails names a target either directly or through a profile.
type ConnectionDetails struct {
	Driver  string `json:"driver,omitempty"`
	DSN     string `json:"dsn,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// ConnectParams associates an owner URI with a connection target.
type ConnectParams struct {
	OwnerURI   string            `json:"ownerUri"`
	Connection ConnectionDetails `json:"connection"`
}

// ConnectResult describes an established connection.
type ConnectResult struct {
	OwnerURI     string `json:"ownerUri"`
	ConnectionID string `json:"connectionId"`
	Driver       string `json:"driver"`
}

// DisconnectParams addresses the connections of an owner URI.
type DisconnectParams struct {
	OwnerURI string `json:"ownerUri"`
}
