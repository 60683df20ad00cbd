package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/afkcraft/bootstrap"
	"pkt.systems/pslog"
)

func newInitCmd() *cobra.Command {
	var outputDir string
	var image string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate default config, secrets and a compose file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			out := outputDir
			if out == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				out = filepath.Join(home, ".afkcraft")
			}
			paths, err := bootstrap.Write(out, overwrite, bootstrap.Options{Image: image, Logger: logger})
			if err != nil {
				return err
			}
			logger.Info("init wrote", "path", paths.ConfigPath, "name", "config.yaml")
			logger.Info("init wrote", "path", paths.ContainerConfigPath, "name", "config-for-container.yaml")
			logger.Info("init wrote", "path", paths.ComposePath, "name", "docker-compose.yaml")
			logger.Info("init wrote", "path", paths.EnvPath, "name", ".env")
			logger.Info("init wrote", "path", paths.KeyStorePath, "name", "keys.bundle")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory")
	cmd.Flags().StringVar(&image, "image", "", "afkcraft image for the compose file")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite existing files")
	return cmd
}
