package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/facematch"
	"github.com/kozaktomas/facecam/internal/overlay"
	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Recognize faces in an image against a user's descriptors",
	Long: `Detect faces in an image and match each one against the descriptors
stored for the given user. Faces further than the match threshold from every
stored descriptor are reported as unknown.

Examples:
  facecam match --email alice@example.com party.jpg
  facecam match --email alice@example.com party.jpg --out party-labeled.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("email", "", "Account whose descriptors are matched (required)")
	matchCmd.Flags().String("out", "", "Write the annotated image to this path (.jpg or .png)")
	_ = matchCmd.MarkFlagRequired("email")
}

func runMatch(cmd *cobra.Command, args []string) error {
	out := mustGetString(cmd, "out")
	ctx := context.Background()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	cfg, user, store, err := openUserStore(ctx, mustGetString(cmd, "email"))
	if err != nil {
		return err
	}
	defer closeStorage()

	model := cfg.Model()
	matcher, err := database.BuildMatcher(ctx, store, user.ID, cfg.MatchThreshold(), model.Metric)
	if err != nil {
		return fmt.Errorf("failed to load descriptors: %w", err)
	}
	if matcher.Len() == 0 {
		fmt.Printf("Warning: %s has no stored descriptors, every face will be unknown\n", user.Email)
	}

	det, err := detector.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	defer det.Close()

	result, err := detector.DetectScaled(ctx, det, data, constants.MaxImageSize)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	matches := matcher.MatchAll(result.Descriptors())
	fmt.Printf("%s: %d faces, threshold %.2f\n", args[0], len(result.Detections), matcher.Threshold())
	for i, d := range result.Detections {
		fmt.Printf("  #%d  %s\n", d.FaceIndex, describeMatch(matches[i]))
	}

	if out != "" {
		if err := writeAnnotatedFile(out, data, overlay.BoxesFromResult(result, matches)); err != nil {
			return err
		}
		fmt.Printf("Annotated image written to %s\n", out)
	}
	return nil
}

func describeMatch(m facematch.Match) string {
	switch {
	case m.Distance == facematch.NoDistance:
		return m.Label
	case m.Known:
		return fmt.Sprintf("%s (distance %.3f)", m.Label, m.Distance)
	default:
		return fmt.Sprintf("%s (nearest at %.3f)", m.Label, m.Distance)
	}
}
