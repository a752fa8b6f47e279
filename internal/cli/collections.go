package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, st, err := buildRegistry(GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		infos, err := registry.Collections()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No collections")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%-32s  %6d docs  (original name: %s)\n", info.Name, info.DocumentCount, info.OriginalName)
		}
		return nil
	},
}

var collectionsInfoCmd = &cobra.Command{
	Use:   "info <collection>",
	Short: "Show one collection's details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, st, err := buildRegistry(GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		info, err := registry.Engine(args[0]).Info()
		if err != nil {
			return err
		}
		fmt.Printf("Name:           %s\n", info.Name)
		fmt.Printf("Original name:  %s\n", info.OriginalName)
		fmt.Printf("Documents:      %d\n", info.DocumentCount)
		fmt.Printf("Dimension:      %d\n", info.Dimension)
		fmt.Printf("Retrieval mode: %s\n", info.RetrievalMode)
		return nil
	},
}

var collectionsClearCmd = &cobra.Command{
	Use:   "clear <collection>",
	Short: "Delete a collection and all its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, st, err := buildRegistry(GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := registry.Engine(args[0]).Clear(); err != nil {
			return err
		}
		fmt.Printf("Cleared collection %q\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsInfoCmd)
	collectionsCmd.AddCommand(collectionsClearCmd)
}
