package domain

// Channel is the kind of communication channel a source belongs to
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
	ChannelVoice Channel = "voice"
)

// Source is one monitored external endpoint: a mailbox, a chat number or a PBX account.
// Sources are loaded from the sources file and are not stored in the database.
type Source struct {
	ID       string  `yaml:"id" json:"id"`
	Channel  Channel `yaml:"channel" json:"channel"`
	Provider string  `yaml:"provider" json:"provider"`
	// Identity is how the provider addresses this source (mailbox address, phone number, account id)
	Identity string `yaml:"identity" json:"identity"`
	Disabled bool   `yaml:"disabled" json:"disabled"`

	Credentials map[string]string `yaml:"credentials" json:"-"`
	// StatusMap overrides the provider's call status vocabulary (voice sources only)
	StatusMap map[string]string `yaml:"status_map" json:"-"`
}

// Active reports whether the source should be polled and accept pushes
func (s *Source) Active() bool {
	return s != nil && !s.Disabled
}

// Credential returns a credential value or an empty string
func (s *Source) Credential(key string) string {
	if s == nil || s.Credentials == nil {
		return ""
	}
	return s.Credentials[key]
}
