package vault

// Secret holds sensitive bytes in a buffer owned by the caller so it can be
// wiped deterministically. Copies made by encoders or the runtime outside
// this buffer are not covered.
type Secret struct {
	b []byte
}

// NewSecret copies b into a fresh buffer.
func NewSecret(b []byte) *Secret {
	c := make([]byte, len(b))
	copy(c, b)
	return &Secret{b: c}
}

// Bytes exposes the underlying buffer. Callers must not retain it past Zero.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Len returns the buffer length.
func (s *Secret) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Zero overwrites the buffer with zeros.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	zeroBytes(s.b)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
