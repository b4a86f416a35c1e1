package cfg

type Cfg struct {
	// Storage configuration
	DBPath string

	// Application configuration
	Port         string
	APIAccessKey string
	WorkerCount  int
	IdentityFile string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
