// Command amalgam configures SQLCipher extension builds and regenerates the
// bundled amalgamation
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pysqlcipher/amalgam/pkg/cli"
	"github.com/pysqlcipher/amalgam/pkg/version"
)

func main() {
	// A .env next to the project may pin PKG_CONFIG, MAKE or OPENSSL_LIB_DIR
	_ = godotenv.Load()

	os.Exit(cli.Execute(version.String()))
}
