package tts

// VoiceProfile identifies a synthesis voice at a specific provider.
type VoiceProfile struct {
	// ID is the provider-assigned voice identifier (e.g. "alloy").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the backend the voice belongs to (e.g. "openai").
	Provider string

	// SampleRate is the PCM sample rate the voice is synthesised at, in Hz.
	// Zero means the provider default.
	SampleRate int
}
