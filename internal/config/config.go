// Package config resolves the triple store's process-level settings:
// the admin API key, database directory, listen port, node id, and
// buffer pool capacity, from flags and environment variables with
// defaults. The storage core itself never imports this package — it
// only consumes the plain directory path and buffer-pool capacity this
// package resolves.
package config

import (
	"flag"
	"os"
	"strconv"
)

const (
	DefaultDbDir           = "./data"
	DefaultPort            = 50051
	DefaultBufferPoolPages = 65536
	DefaultNodeID          = 1

	envDbDir           = "TRIPLESTORE_DB_DIR"
	envBufferPoolPages = "TRIPLESTORE_BUFFER_POOL_PAGES"
	envNodeID          = "TRIPLESTORE_NODE_ID"
	envPort            = "TRIPLESTORE_PORT"
	envAdminKey        = "TRIPLESTORE_ADMIN_KEY"
)

// Config is the resolved set of process-level settings.
type Config struct {
	DbDir           string
	Port            int
	BufferPoolPages int
	NodeID          uint32
	AdminKey        string
}

// FromEnv resolves Config entirely from environment variables, falling
// back to defaults for anything unset or unparsable.
func FromEnv() Config {
	return Config{
		DbDir:           getEnvString(envDbDir, DefaultDbDir),
		Port:            getEnvInt(envPort, DefaultPort),
		BufferPoolPages: getEnvInt(envBufferPoolPages, DefaultBufferPoolPages),
		NodeID:          uint32(getEnvInt(envNodeID, DefaultNodeID)),
		AdminKey:        getEnvString(envAdminKey, ""),
	}
}

// ParseFlags resolves Config from command-line flags, using FromEnv's
// result as each flag's default so environment variables still apply
// when a flag is omitted.
func ParseFlags(args []string) (Config, error) {
	envDefaults := FromEnv()

	fs := flag.NewFlagSet("triplestored", flag.ContinueOnError)
	dbDir := fs.String("db-dir", envDefaults.DbDir, "Database directory")
	port := fs.Int("port", envDefaults.Port, "Listen port")
	bufferPoolPages := fs.Int("buffer-pool-pages", envDefaults.BufferPoolPages, "Buffer pool capacity, in pages")
	nodeID := fs.Uint("node-id", uint(envDefaults.NodeID), "HLC node id")
	adminKey := fs.String("admin-key", envDefaults.AdminKey, "Admin API key")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return Config{
		DbDir:           *dbDir,
		Port:            *port,
		BufferPoolPages: *bufferPoolPages,
		NodeID:          uint32(*nodeID),
		AdminKey:        *adminKey,
	}, nil
}

func getEnvString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
