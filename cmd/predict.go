package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Submit a product for allergen classification",
	Long:  "Sends the product's ingredient fields to the SVM+AdaBoost classifier and prints the detected allergens. A successful submission shows up in the dataset on the next reload.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		product, _ := cmd.Flags().GetString("product")
		mainIngredient, _ := cmd.Flags().GetString("main-ingredient")
		sweetener, _ := cmd.Flags().GetString("sweetener")
		fatOil, _ := cmd.Flags().GetString("fat-oil")
		flavor, _ := cmd.Flags().GetString("flavor-enhancer")
		asJSON, _ := cmd.Flags().GetBool("json")

		result, err := newClient().Predict(cmd.Context(), allerscan.PredictionRequest{
			NamaProdukMakanan: product,
			BahanUtama:        mainIngredient,
			Pemanis:           sweetener,
			LemakMinyak:       fatOil,
			PenyedapRasa:      flavor,
		})
		if err != nil {
			return eris.Wrap(err, "predict")
		}

		if asJSON {
			return printJSON(os.Stdout, result)
		}

		if result.TotalAllergensDetected == 0 {
			fmt.Println("No allergens detected.")
		} else {
			fmt.Printf("Detected %d allergen(s):\n", result.TotalAllergensDetected)
			for _, a := range result.DetectedAllergens {
				fmt.Printf("  %s (%.1f%%, %s)\n", a.Allergen, a.Confidence.Percent(), a.RiskLevel)
			}
		}
		fmt.Printf("Overall risk: %s, confidence %.1f%% (%.0f ms)\n",
			result.OverallRisk, result.OverallConfidence.Percent(), result.ProcessingTimeMs)
		return nil
	},
}

func init() {
	predictCmd.Flags().String("product", "", "product name (required)")
	predictCmd.Flags().String("main-ingredient", "", "main ingredient")
	predictCmd.Flags().String("sweetener", "", "sweetener (required)")
	predictCmd.Flags().String("fat-oil", "", "fat or oil (required)")
	predictCmd.Flags().String("flavor-enhancer", "", "flavor enhancer (required)")
	predictCmd.Flags().Bool("json", false, "emit JSON instead of text")
	rootCmd.AddCommand(predictCmd)
}
