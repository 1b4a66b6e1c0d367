package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/tentsim/internal/climate"
)

type seasonRow struct {
	Key         climate.SeasonKey      `json:"key"`
	Ambient     climate.Profile        `json:"ambient"`
	Outside     climate.OutsideProfile `json:"outside"`
	Multipliers climate.Multipliers    `json:"multipliers"`
}

func newSeasonsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seasons",
		Short: "List the season profiles",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			var rows []seasonRow
			for _, k := range climate.Seasons() {
				rows = append(rows, seasonRow{
					Key:         k,
					Ambient:     climate.SeasonProfile(k),
					Outside:     climate.SeasonOutside(k),
					Multipliers: climate.SeasonMultipliers(k),
				})
			}

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				enc.Encode(rows)
				return
			}

			fmt.Fprintf(out, "%-11s %8s %8s %8s %8s %7s %7s %7s %7s\n",
				"SEASON", "ROOM °C", "ROOM %", "OUT °C", "OUT %", "HEAT", "COOL", "HUMID", "DEHUM")
			for _, r := range rows {
				m := r.Multipliers
				fmt.Fprintf(out, "%-11s %8s %8s %8s %8s %7s %7s %7s %7s\n",
					r.Key,
					humanize.FtoaWithDigits(r.Ambient.AmbientTemp, 1),
					humanize.FtoaWithDigits(r.Ambient.AmbientHum, 1),
					humanize.FtoaWithDigits(r.Outside.Temp, 1),
					humanize.FtoaWithDigits(r.Outside.Hum, 1),
					humanize.FtoaWithDigits(m.Heater, 2),
					humanize.FtoaWithDigits(m.Cooler, 2),
					humanize.FtoaWithDigits(m.Humidifier, 2),
					humanize.FtoaWithDigits(m.Dehumidifier, 2),
				)
			}
		},
	}
}
