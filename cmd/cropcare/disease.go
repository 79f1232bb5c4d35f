package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fentz26/cropcare/internal/controlplane"
	"github.com/fentz26/cropcare/internal/models"
)

var diseaseCmd = &cobra.Command{
	Use:   "disease",
	Short: "Report diseases and track treatment progress",
}

var diseaseReportCmd = &cobra.Command{
	Use:   "report [plant-id]",
	Short: "Report a disease on a plant",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiseaseReport,
}

var diseaseFeedbackCmd = &cobra.Command{
	Use:   "feedback [plant-id] [disease-index] [worse|same|better|resolved]",
	Short: "Record treatment progress for a disease",
	Args:  cobra.ExactArgs(3),
	RunE:  runDiseaseFeedback,
}

var diseaseDeleteCmd = &cobra.Command{
	Use:   "delete [plant-id] [disease-index]",
	Short: "Remove a disease record",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiseaseDelete,
}

var (
	diseaseName       string
	diseaseSymptoms   []string
	diseaseSeverity   string
	diseaseTreatments []string
	feedbackNotes     string
)

func init() {
	diseaseCmd.AddCommand(diseaseReportCmd, diseaseFeedbackCmd, diseaseDeleteCmd)

	diseaseReportCmd.Flags().StringVar(&diseaseName, "name", "", "Disease name (required)")
	diseaseReportCmd.Flags().StringSliceVar(&diseaseSymptoms, "symptom", nil, "Observed symptom (repeatable)")
	diseaseReportCmd.Flags().StringVar(&diseaseSeverity, "severity", "", "Initial severity (mild, moderate, severe)")
	diseaseReportCmd.Flags().StringSliceVar(&diseaseTreatments, "treatment", nil, "Chemical treatment to apply (repeatable)")
	diseaseReportCmd.MarkFlagRequired("name")

	diseaseFeedbackCmd.Flags().StringVar(&feedbackNotes, "notes", "", "Free-form observation")
}

func runDiseaseReport(cmd *cobra.Command, args []string) error {
	body := controlplane.DiseaseInput{
		Name:               diseaseName,
		Symptoms:           diseaseSymptoms,
		Severity:           models.Severity(diseaseSeverity),
		SelectedTreatments: diseaseTreatments,
	}

	resp, err := apiPost("/plants/"+url.PathEscape(args[0])+"/diseases", body)
	if err != nil {
		return err
	}

	var rec models.DiseaseRecord
	if err := json.Unmarshal(resp, &rec); err != nil {
		return err
	}

	fmt.Printf("Recorded %s at severity %d/10 (%s)\n", rec.Name, rec.SeverityScore, rec.Status)
	return nil
}

func runDiseaseFeedback(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid disease index %q", args[1])
	}

	body := map[string]string{
		"status": args[2],
		"notes":  feedbackNotes,
	}
	path := fmt.Sprintf("/plants/%s/diseases/%d/feedback", url.PathEscape(args[0]), index)

	// A resolved disease triggers plan regeneration on the server.
	resp, err := apiDo(generationClient, http.MethodPost, path, body)
	if err != nil {
		return err
	}

	var res controlplane.FeedbackResult
	if err := json.Unmarshal(resp, &res); err != nil {
		return err
	}

	fmt.Printf("%s: severity %d/10 (%s)\n", res.Disease.Name, res.Disease.SeverityScore, res.Disease.Status)
	if res.ShouldRegeneratePlan {
		if res.Plan != nil {
			fmt.Println("Disease resolved; care plan regenerated.")
		} else {
			fmt.Printf("Disease resolved; run `cropcare plant refresh %s` to regenerate the plan.\n", args[0])
		}
	}
	return nil
}

func runDiseaseDelete(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid disease index %q", args[1])
	}

	if _, err := apiDelete(fmt.Sprintf("/plants/%s/diseases/%d", url.PathEscape(args[0]), index)); err != nil {
		return err
	}
	fmt.Printf("Removed disease %d from plant %s\n", index, args[0])
	return nil
}
