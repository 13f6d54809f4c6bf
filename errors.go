package fiddle

import "fmt"

// ErrScript means a user script failed to evaluate or did not produce a
// valid action mapping. Kind carries the underlying error's name
// (e.g. "SyntaxError", "TypeError").
type ErrScript struct {
	Kind    string
	Message string
}

func (e *ErrScript) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrUnknownCapability means a script requested a capability outside the
// sandbox allow-list.
type ErrUnknownCapability struct {
	Name string
}

func (e *ErrUnknownCapability) Error() string {
	return fmt.Sprintf("%s is not a valid module", e.Name)
}

// ErrHTTP is a non-success response from a remote API. Message carries the
// remote error body's message when it could be parsed.
type ErrHTTP struct {
	Status  int
	Message string
}

func (e *ErrHTTP) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("http %d", e.Status)
}
