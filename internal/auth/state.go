package auth

// State is the server's view of the inbound access token for one request.
type State int

const (
	StateNoToken State = iota
	StateValid
	StateExpired
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no_token"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateInvalid:
		return "invalid"
	}
	return "unknown"
}
