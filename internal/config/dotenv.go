package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	// ConfigDir is the name of the per-user and per-project directory.
	ConfigDir = ".taskrunner"
	// EnvFileName is the name of the environment variables file.
	EnvFileName = ".env"
)

// LoadDotEnv loads <baseDir>/.taskrunner/.env and then <baseDir>/.env if
// they exist. godotenv.Load never overrides a variable that is already set,
// so the process environment wins, then the first file that sets a name.
// A missing file is not an error; an unparsable one is.
func LoadDotEnv(baseDir string) error {
	for _, path := range []string{
		filepath.Join(baseDir, ConfigDir, EnvFileName),
		filepath.Join(baseDir, EnvFileName),
	} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadDotEnvFromCwd loads the .env files of the current working directory.
func LoadDotEnvFromCwd() error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	return LoadDotEnv(cwd)
}
