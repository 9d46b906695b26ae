package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/overlay"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect faces in an image",
	Long: `Run the face model on a single image and print the detected faces.

Examples:
  # Print boxes and scores
  facecam detect group.jpg

  # Full model output including descriptors
  facecam detect group.jpg --json

  # Write the image with the overlay drawn
  facecam detect group.jpg --out annotated.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().String("out", "", "Write the annotated image to this path (.jpg or .png)")
	detectCmd.Flags().Bool("json", false, "Print the model output as JSON")
}

func runDetect(cmd *cobra.Command, args []string) error {
	out := mustGetString(cmd, "out")
	asJSON := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	cfg := config.Load()
	det, err := detector.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	defer det.Close()

	result, err := detector.DetectScaled(context.Background(), det, data, constants.MaxImageSize)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	if asJSON {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	} else {
		fmt.Printf("%s: %dx%d, %d faces (model %s)\n", args[0], result.Width, result.Height, len(result.Detections), result.Model)
		for _, d := range result.Detections {
			fmt.Printf("  #%d  score %.2f  box %.0f\n", d.FaceIndex, d.Score, d.BBox)
		}
	}

	if out != "" {
		if err := writeAnnotatedFile(out, data, overlay.BoxesFromResult(result, nil)); err != nil {
			return err
		}
		fmt.Printf("Annotated image written to %s\n", out)
	}
	return nil
}
