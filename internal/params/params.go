package params

const (
	SecParam = 256
	SecBytes = SecParam / 8

	// SessionKeyBytes is the size of the random key drawn for every emptiness session.
	SessionKeyBytes = SecBytes

	// ModulusBits is the bit length of the default group modulus 2^521 - 1.
	ModulusBits  = 521
	ModulusBytes = (ModulusBits + 7) / 8 // = 66

	// DigestBytes is the length of SHA-256, used when hashing set elements into the group.
	DigestBytes = 32

	// SSIDBytes is the length of the session identifier derived from the protocol transcript.
	SSIDBytes = 2 * SecBytes // = 64
)
