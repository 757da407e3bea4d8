package cmd

import (
	"fmt"
	"strings"

	"github.com/glimte/mmate-outbound/transports/rabbitmq"
	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect mmate-send configuration",
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the effective configuration",
	Long:  `Display the configuration after defaults, the config file and MMATE_ environment variables are applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		view := cfg
		view.RabbitMQ.URL = rabbitmq.SanitizeURL(view.RabbitMQ.URL)

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, view)
		}

		fmt.Fprintln(out, "Current configuration:")
		fmt.Fprintf(out, "  Node ID: %s\n", orNone(view.Node.ID))
		fmt.Fprintf(out, "  Reply URI: %s\n", orNone(view.Node.ReplyURI))
		fmt.Fprintf(out, "  Dead letter URI: %s\n", orNone(view.Node.DeadLetterURI))
		fmt.Fprintf(out, "  Retry: %d attempts, pauses %s, parallelism %d, capacity %d, direct send %v\n",
			view.Retry.MaximumAttempts, view.Retry.Pauses, view.Retry.Parallelism, view.Retry.Capacity, view.Retry.DirectSend)
		if view.Retry.BreakerThreshold > 0 {
			fmt.Fprintf(out, "  Circuit breaker: opens after %d failures for %s\n",
				view.Retry.BreakerThreshold, view.Retry.BreakerOpenTimeout)
		} else {
			fmt.Fprintln(out, "  Circuit breaker: disabled")
		}
		fmt.Fprintf(out, "  RabbitMQ: %s (delayed exchange %s, confirm timeout %s)\n",
			view.RabbitMQ.URL, orNone(view.RabbitMQ.DelayedExchange), view.RabbitMQ.ConfirmTimeout)
		fmt.Fprintf(out, "  NSQ: %s\n", view.NSQ.NsqdAddr)
		fmt.Fprintf(out, "  Kafka: %s (write timeout %s, batch timeout %s)\n",
			strings.Join(view.Kafka.Brokers, ","), view.Kafka.WriteTimeout, view.Kafka.BatchTimeout)
		fmt.Fprintf(out, "  NATS: %s (flush %v)\n", view.NATS.URL, view.NATS.Flush)
		fmt.Fprintf(out, "  Tracing: enabled %v, endpoint %s, service %s\n",
			view.Tracing.Enabled, view.Tracing.Endpoint, view.Tracing.ServiceName)
		fmt.Fprintf(out, "  Metrics: %s\n", orNone(view.Metrics.Addr))
		fmt.Fprintf(out, "  Log: %s (%s)\n", view.Log.Level, view.Log.Format)

		if cfgFile != "" {
			fmt.Fprintf(out, "  Config file: %s\n", cfgFile)
		} else {
			fmt.Fprintln(out, "  Config file: none (using defaults and environment)")
		}
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
}
