package config

import "path/filepath"

const (
	// Global layout under VULNAGENT_HOME.
	ConfigFilePath = "config.toml"
	DataDirPath    = "data"

	// Files under VULNAGENT_HOME/data/.
	RecordsDBPath      = "cve.db"
	TranscriptsDirPath = "transcripts"
	ChatTranscriptPath = "chat.jsonl"
	DefaultHomeDirName = ".vulnagent"
	homeDirEnv         = "VULNAGENT_HOME"
)

func homeConfigPath(home string) string {
	return filepath.Join(home, ConfigFilePath)
}

func defaultHomePath(home string) string {
	return filepath.Join(home, DefaultHomeDirName)
}

func homeDataPath(home string) string {
	return filepath.Join(home, DataDirPath)
}

// ConfigPath returns the config.toml path under HomeDir.
func (c *Config) ConfigPath() string {
	return homeConfigPath(c.HomeDir)
}

// DataDir returns the runtime data directory under HomeDir.
func (c *Config) DataDir() string {
	return homeDataPath(c.HomeDir)
}

// TranscriptsDir returns the directory holding saved session transcripts.
func (c *Config) TranscriptsDir() string {
	return filepath.Join(c.DataDir(), TranscriptsDirPath)
}

// ChatTranscriptPath returns the transcript file used by interactive chat.
func (c *Config) ChatTranscriptPath() string {
	return filepath.Join(c.TranscriptsDir(), ChatTranscriptPath)
}
