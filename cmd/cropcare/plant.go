package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/cropcare/internal/controlplane"
	"github.com/fentz26/cropcare/internal/models"
)

var plantCmd = &cobra.Command{
	Use:   "plant",
	Short: "Manage plants and their care plans",
}

var plantAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new plant",
	RunE:  runPlantAdd,
}

var plantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active plants",
	RunE:  runPlantList,
}

var plantShowCmd = &cobra.Command{
	Use:   "show [plant-id]",
	Short: "Show a plant and its 7-day plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlantShow,
}

var plantRefreshCmd = &cobra.Command{
	Use:   "refresh [plant-id]",
	Short: "Regenerate a plant's care plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlantRefresh,
}

var plantDeleteCmd = &cobra.Command{
	Use:   "delete [plant-id]",
	Short: "Deactivate a plant",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlantDelete,
}

var plantDecisionsCmd = &cobra.Command{
	Use:   "decisions [plant-id]",
	Short: "Show the decision log for a plant",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlantDecisions,
}

var (
	plantOwner     string
	plantCrop      string
	plantLat       float64
	plantLon       float64
	plantSoil      []string
	plantSunlight  string
	plantArea      float64
	plantQuantity  int
	plantStage     string
	plantHealth    string
	plantPlanted   string
	plantReminders bool
	plantMissed    bool
	plantEmail     string
	decisionLimit  int
)

func init() {
	plantCmd.AddCommand(plantAddCmd, plantListCmd, plantShowCmd, plantRefreshCmd, plantDeleteCmd, plantDecisionsCmd)

	plantAddCmd.Flags().StringVar(&plantOwner, "owner", "", "Owner ID (required)")
	plantAddCmd.Flags().StringVar(&plantCrop, "crop", "", "Crop name (required)")
	plantAddCmd.Flags().Float64Var(&plantLat, "lat", 0, "Latitude")
	plantAddCmd.Flags().Float64Var(&plantLon, "lon", 0, "Longitude")
	plantAddCmd.Flags().StringSliceVar(&plantSoil, "soil", nil, "Soil types, first is primary (e.g. loam,clay)")
	plantAddCmd.Flags().StringVar(&plantSunlight, "sunlight", "", "Sunlight exposure")
	plantAddCmd.Flags().Float64Var(&plantArea, "area", 0, "Planted area in square metres")
	plantAddCmd.Flags().IntVar(&plantQuantity, "quantity", 1, "Number of plants")
	plantAddCmd.Flags().StringVar(&plantStage, "stage", "", "Growth stage")
	plantAddCmd.Flags().StringVar(&plantHealth, "health", "", "Current health notes")
	plantAddCmd.Flags().StringVar(&plantPlanted, "planted", "", "Planting date (YYYY-MM-DD, default today)")
	plantAddCmd.Flags().BoolVar(&plantReminders, "reminders", true, "Send action reminders")
	plantAddCmd.Flags().BoolVar(&plantMissed, "missed-warnings", true, "Warn about missed actions")
	plantAddCmd.Flags().StringVar(&plantEmail, "email", "", "Notification email")
	plantAddCmd.MarkFlagRequired("owner")
	plantAddCmd.MarkFlagRequired("crop")

	plantListCmd.Flags().StringVar(&plantOwner, "owner", "", "Filter by owner")

	plantDecisionsCmd.Flags().IntVar(&decisionLimit, "limit", 20, "Maximum records to show")
}

func runPlantAdd(cmd *cobra.Command, args []string) error {
	planted := time.Now()
	if plantPlanted != "" {
		t, err := time.Parse(models.DateLayout, plantPlanted)
		if err != nil {
			return fmt.Errorf("invalid --planted: %w", err)
		}
		planted = t
	}

	body := controlplane.PlantInput{
		OwnerID:      plantOwner,
		CropName:     plantCrop,
		PlantingDate: planted,
		Location: models.Location{
			Lat:       plantLat,
			Lon:       plantLon,
			SoilTypes: plantSoil,
			Sunlight:  plantSunlight,
			AreaSqM:   plantArea,
		},
		Quantity:      plantQuantity,
		GrowthStage:   plantStage,
		CurrentHealth: plantHealth,
		Notifications: models.NotificationPrefs{
			Reminders:      plantReminders,
			MissedWarnings: plantMissed,
			Email:          plantEmail,
		},
	}

	resp, err := apiPost("/plants", body)
	if err != nil {
		return err
	}

	var p models.Plant
	if err := json.Unmarshal(resp, &p); err != nil {
		return err
	}

	fmt.Printf("Created plant: %s\n", p.ID)
	fmt.Printf("Run `cropcare plant refresh %s` to generate its first plan.\n", p.ID)
	return nil
}

func runPlantList(cmd *cobra.Command, args []string) error {
	path := "/plants"
	if plantOwner != "" {
		path += "?owner=" + url.QueryEscape(plantOwner)
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var plants []models.Plant
	if err := json.Unmarshal(resp, &plants); err != nil {
		return err
	}

	if len(plants) == 0 {
		fmt.Println("No plants found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCROP\tOWNER\tQTY\tDISEASES\tPLAN")
	for _, p := range plants {
		plan := "-"
		if p.CarePlan != nil {
			plan = fmt.Sprintf("%s %s", p.CarePlan.Source, p.CarePlan.LastUpdated.Local().Format("Jan 2 15:04"))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(p.ID), truncate(p.CropName, 30), p.OwnerID, p.Quantity, activeDiseases(p.Diseases), plan)
	}
	w.Flush()
	return nil
}

func runPlantShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/plants/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}

	var p models.Plant
	if err := json.Unmarshal(resp, &p); err != nil {
		return err
	}

	fmt.Printf("ID:        %s\n", p.ID)
	fmt.Printf("Crop:      %s × %d\n", p.CropName, p.Quantity)
	fmt.Printf("Owner:     %s\n", p.OwnerID)
	fmt.Printf("Planted:   %s\n", p.PlantingDate.Format(models.DateLayout))
	fmt.Printf("Location:  %.4f, %.4f\n", p.Location.Lat, p.Location.Lon)
	if len(p.Location.SoilTypes) > 0 {
		fmt.Printf("Soil:      %s\n", strings.Join(p.Location.SoilTypes, ", "))
	}
	if p.GrowthStage != "" {
		fmt.Printf("Stage:     %s\n", p.GrowthStage)
	}
	for i, d := range p.Diseases {
		fmt.Printf("Disease %d: %s %d/10 (%s)\n", i, d.Name, d.SeverityScore, d.Status)
	}
	fmt.Println()
	printPlan(p.CarePlan)
	return nil
}

func runPlantRefresh(cmd *cobra.Command, args []string) error {
	resp, err := apiDo(generationClient, http.MethodPost, "/plants/"+url.PathEscape(args[0])+"/refresh", nil)
	if err != nil {
		return err
	}

	var plan models.CarePlan
	if err := json.Unmarshal(resp, &plan); err != nil {
		return err
	}

	printPlan(&plan)
	return nil
}

func runPlantDelete(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete("/plants/" + url.PathEscape(args[0])); err != nil {
		return err
	}
	fmt.Printf("Deactivated plant %s\n", args[0])
	return nil
}

func runPlantDecisions(cmd *cobra.Command, args []string) error {
	resp, err := apiGet(fmt.Sprintf("/plants/%s/decisions?limit=%d", url.PathEscape(args[0]), decisionLimit))
	if err != nil {
		return err
	}

	var records []models.DecisionRecord
	if err := json.Unmarshal(resp, &records); err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No decisions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tDETAILS")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.Timestamp.Local().Format(time.DateTime), r.Action, r.Outcome, truncate(r.Details, 60))
	}
	w.Flush()
	return nil
}

// --- Helpers ---

func printPlan(plan *models.CarePlan) {
	if plan == nil {
		fmt.Println("No care plan yet")
		return
	}

	fmt.Printf("Plan (%s, updated %s)\n", plan.Source, plan.LastUpdated.Local().Format(time.DateTime))
	if plan.Summary != "" {
		fmt.Println(plan.Summary)
	}
	for d, day := range plan.Days {
		w := day.Weather
		fmt.Printf("\nDay %d  %s  %.0f-%.0f°C  %.0f%%  %.1fmm\n", d, day.Date, w.TempMin, w.TempMax, w.Humidity, w.RainMm)
		for _, alert := range w.Alerts {
			fmt.Printf("  ! %s\n", alert)
		}
		for i, a := range day.Actions {
			check := "[ ]"
			if a.Completed {
				check = "[x]"
			}
			fmt.Printf("  %d %s %s %-9s %s  [%s]\n", i, check, a.Time, a.Type, a.Description, a.ID)
		}
	}
}

func activeDiseases(diseases []models.DiseaseRecord) int {
	n := 0
	for _, d := range diseases {
		if d.IsActive() {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
