package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/catalogops/metasync/internal/view"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciled-view HTTP server",
	Long: `Serve the reconciled entity view over HTTP with live WebSocket
updates.

Endpoints:
  GET  /api/entities/{type}          reconciled view
  GET  /api/entities/{type}/tree     hierarchy forest
  POST /api/entities/{type}/actions  batch actions
  GET  /ws                           broadcast socket
  GET  /health                       health check

Runs until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8480, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	catalog := newCatalog()
	service := newService(st, catalog)
	dispatcher := newDispatcher(st, catalog)

	port, _ := cmd.Flags().GetInt("port")
	server := view.NewServer(service, dispatcher, &view.ServerConfig{
		Port:   port,
		Logger: newLogger("[serve] "),
	})

	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "View server listening on %s\n", server.GetAddr())

	<-rootCtx.Done()
	return server.Stop()
}
