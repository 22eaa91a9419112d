// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        exactArgs(),
		Annotations: map[string]string{annotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version":    a.build.Version,
				"git_commit": a.build.GitCommit,
				"build_date": a.build.BuildDate,
				"go":         runtime.Version(),
				"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			}
			return a.emit("version", info, func(w io.Writer) {
				fmt.Fprintf(w, "ezy %s\n", a.build.Version)
				fmt.Fprintln(w, RenderField("Commit", a.build.GitCommit))
				fmt.Fprintln(w, RenderField("Built", a.build.BuildDate))
				fmt.Fprintln(w, RenderField("Go", info["go"]+" "+info["platform"]))
			})
		},
	}
}
