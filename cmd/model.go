/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/heartrisk/apiserver/config"
	"github.com/heartrisk/apiserver/internal/model"
	"github.com/heartrisk/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

// modelCmd represents the model command.
var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage the model artifact",
}

var modelPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download the model artifact from the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		artifacts, err := openArtifactStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		if err := storage.Download(cmd.Context(), artifacts, cfg.Model.ArtifactKey, cfg.Model.Path); err != nil {
			return err
		}
		fmt.Printf("pulled %s to %s\n", cfg.Model.ArtifactKey, cfg.Model.Path)
		return nil
	},
}

var modelPushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Validate a local model artifact and upload it to the configured store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		artifacts, err := openArtifactStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		path := args[0]
		if _, err := model.Load(path); err != nil {
			return fmt.Errorf("refusing to push invalid artifact: %w", err)
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}

		if err := artifacts.Upload(cmd.Context(), cfg.Model.ArtifactKey, f, info.Size()); err != nil {
			return err
		}
		fmt.Printf("pushed %s to bucket %s as %s\n", path, artifacts.Bucket(), cfg.Model.ArtifactKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelPullCmd)
	modelCmd.AddCommand(modelPushCmd)
}

func openArtifactStore(ctx context.Context, cfg config.Config) (storage.ArtifactStore, error) {
	switch cfg.ArtifactStore {
	case "minio":
		return storage.NewMinioStore(cfg.Minio)
	case "gcs":
		return storage.NewGCSStore(ctx, cfg.GCS)
	default:
		return nil, errors.New("ARTIFACT_STORE must be set to minio or gcs")
	}
}
