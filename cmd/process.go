package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/openclerk/invoicedesk/internal/chat"
	"github.com/openclerk/invoicedesk/internal/fetcher"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Extract and save invoices from local files",
	Long:  "Runs local documents through the same extraction, dedup, and persistence pipeline as chat uploads, then prints the bucketed results.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		files := make([]fetcher.Result, 0, len(args))
		for _, path := range args {
			res, err := loadLocalFile(path)
			if err != nil {
				return err
			}
			files = append(files, res)
		}

		emitter := pipeline.NewChanEmitter(64)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range emitter.Events() {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Type, ev.Message)
			}
		}()

		report, err := env.newPipeline(emitter).ProcessFiles(ctx, files)
		emitter.Close()
		<-done
		if err != nil {
			return eris.Wrap(err, "process files")
		}

		fmt.Println(chat.FormatReport(report))
		return nil
	},
}

func loadLocalFile(path string) (fetcher.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fetcher.Result{}, eris.Wrapf(err, "read %s", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	att := model.Attachment{
		URL:         "file://" + abs,
		ContentType: contentTypeFor(path),
		Name:        filepath.Base(path),
	}
	return fetcher.Result{
		Attachment: att,
		File: &fetcher.File{
			Attachment:  att,
			ContentType: att.ContentType,
			Data:        data,
		},
	}, nil
}

// contentTypeFor maps a file extension to the content types the extractor
// understands. Unknown extensions pass through as octet-stream and are
// rejected downstream with a clear reason.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func init() {
	rootCmd.AddCommand(processCmd)
}
