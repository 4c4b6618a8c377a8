package env

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvDotenvPath points at an explicit .env file and disables the upward search.
const EnvDotenvPath = "PROVISION_DOTENV"

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads PROVISION_DOTENV when set, otherwise the first .env file found
// from the current working directory up to the filesystem root. Variables
// already present in the environment win. Subsequent calls are no-ops.
func Ensure() error {
	// Keep unit tests hermetic: avoid picking up developer-local `.env` by default.
	// Opt-in with GOTEST_LOAD_DOTENV=1 when running `go test`.
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			loadErr = err
			return
		}
		loadedPath, loadErr = load(strings.TrimSpace(os.Getenv(EnvDotenvPath)), wd)
	})
	return loadErr
}

// LoadedPath returns the resolved .env path if one was loaded, otherwise "".
func LoadedPath() string {
	return loadedPath
}

func load(explicit, startDir string) (string, error) {
	path := explicit
	if path == "" {
		found, err := findDotEnv(startDir)
		if err != nil {
			log.Debug().Err(err).Msg("provisioner: search .env failed")
			return "", err
		}
		if found == "" {
			return "", nil
		}
		path = found
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("dotenv", path).Msg("provisioner: load .env failed")
		return "", err
	}
	log.Debug().Str("dotenv", path).Msg("provisioner: loaded .env")
	return path, nil
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
