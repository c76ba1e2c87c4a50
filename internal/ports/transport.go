package ports

// TransmitParams carries the per-payload delivery hints of a collection scheme.
type TransmitParams struct {
	Persist     bool
	Compression string
	Priority    uint32
}

// Transport moves serialized payloads off the vehicle (MQTT, HTTPS, files).
type Transport interface {
	Send(payload []byte, params TransmitParams) error
}
