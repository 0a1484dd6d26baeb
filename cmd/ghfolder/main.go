// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	_ "gocloud.dev/blob/memblob" // --cache-url mem://

	"github.com/bodaay/GitHubFolderDownloader/internal/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	os.Exit(cli.Execute(Version))
}
