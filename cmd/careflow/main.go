package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zatekoja/careflow/internal/application/services"
	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/pkg/config"
	apperrors "github.com/zatekoja/careflow/pkg/errors"
	"github.com/zatekoja/careflow/pkg/secrets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps application error kinds to distinct process exit codes
func exitCode(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeInvalidInput:
		return 2
	case apperrors.ErrorTypeNotFound:
		return 3
	case apperrors.ErrorTypeNoCapacity:
		return 4
	case apperrors.ErrorTypeContention, apperrors.ErrorTypeTimeout:
		return 5
	case apperrors.ErrorTypeForecastUnavailable:
		return 6
	}
	return 1
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "careflow",
		Short:         "Hospital bed allocation and appointment queue engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(bedsCmd())
	rootCmd.AddCommand(hospitalsCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(eventsCmd())

	return rootCmd
}

// withApp loads configuration, wires the app and runs fn against it
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if _, err := secrets.Apply(cmd.Context(), secrets.LoadVaultConfig()); err != nil {
		return fmt.Errorf("failed to load vault secrets: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s, name string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewInvalidInputError(fmt.Sprintf("%s must be a positive integer, got %q", name, s))
	}
	return id, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the directory schema in PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.pgDir == nil {
					return apperrors.NewInvalidInputError("migrate requires STORE_BACKEND=postgres")
				}
				if err := a.pgDir.EnsureSchema(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load a demo hospital network",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				summary, err := seedDirectory(ctx, a.dir)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func bedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beds",
		Short: "Allocate, release and inspect beds",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available beds",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospitalID, _ := cmd.Flags().GetInt64("hospital")
			ward, _ := cmd.Flags().GetString("ward")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				var hid *int64
				if hospitalID > 0 {
					hid = &hospitalID
				}
				var wt *entities.WardType
				if ward != "" {
					parsed, err := entities.ParseWardType(ward)
					if err != nil {
						return apperrors.NewInvalidInputError(err.Error())
					}
					wt = &parsed
				}
				beds, err := a.allocator.ListAvailable(ctx, hid, wt)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), beds)
			})
		},
	}
	listCmd.Flags().Int64("hospital", 0, "Restrict to one hospital")
	listCmd.Flags().String("ward", "", "Restrict to one ward type")

	allocateCmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate a bed to a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetInt64("patient")
			hospitalID, _ := cmd.Flags().GetInt64("hospital")
			ward, _ := cmd.Flags().GetString("ward")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				req := services.AllocationRequest{PatientID: patientID}
				if hospitalID > 0 {
					req.PreferredHospitalID = &hospitalID
				}
				if ward != "" {
					parsed, err := entities.ParseWardType(ward)
					if err != nil {
						return apperrors.NewInvalidInputError(err.Error())
					}
					req.WardType = parsed
				}
				allocation, err := a.allocator.Allocate(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), allocation)
			})
		},
	}
	allocateCmd.Flags().Int64("patient", 0, "Patient ID")
	allocateCmd.Flags().Int64("hospital", 0, "Preferred hospital ID")
	allocateCmd.Flags().String("ward", string(entities.WardTypeGeneral), "Ward type")
	_ = allocateCmd.MarkFlagRequired("patient")

	releaseCmd := &cobra.Command{
		Use:   "release <bed-id>",
		Short: "Free an occupied bed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bedID, err := parseID(args[0], "bed id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				bed, err := a.allocator.Release(ctx, bedID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), bed)
			})
		},
	}

	maintenanceCmd := &cobra.Command{
		Use:   "maintenance <bed-id>",
		Short: "Take a bed out of service, or return it with --off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bedID, err := parseID(args[0], "bed id")
			if err != nil {
				return err
			}
			off, _ := cmd.Flags().GetBool("off")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				bed, err := a.allocator.SetMaintenance(ctx, bedID, !off)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), bed)
			})
		},
	}
	maintenanceCmd.Flags().Bool("off", false, "Return the bed to service")

	occupancyCmd := &cobra.Command{
		Use:   "occupancy <hospital-id>",
		Short: "Show per-ward occupancy of a hospital",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hospitalID, err := parseID(args[0], "hospital id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				snapshot, err := a.allocator.Occupancy(ctx, hospitalID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snapshot)
			})
		},
	}

	forecastAvailCmd := &cobra.Command{
		Use:   "forecast <hospital-id>",
		Short: "Project free beds per ward over the coming days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hospitalID, err := parseID(args[0], "hospital id")
			if err != nil {
				return err
			}
			days, _ := cmd.Flags().GetInt("days")
			bestEffort, _ := cmd.Flags().GetBool("best-effort")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.allocator.ForecastAvailability(ctx, hospitalID, days, services.ForecastOptions{BestEffort: bestEffort})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	forecastAvailCmd.Flags().Int("days", 7, "Days ahead to project")
	forecastAvailCmd.Flags().Bool("best-effort", false, "Assume zero demand when the predictor fails")

	cmd.AddCommand(listCmd, allocateCmd, releaseCmd, maintenanceCmd, occupancyCmd, forecastAvailCmd)
	return cmd
}

func hospitalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hospitals",
		Short: "Manage hospitals in the network",
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <hospital-id>",
		Short: "Take a hospital out of bed allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hospitalID, err := parseID(args[0], "hospital id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				hospital, err := a.allocator.DeactivateHospital(ctx, hospitalID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), hospital)
			})
		},
	}

	cmd.AddCommand(deactivateCmd)
	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Book appointments and order department queues",
	}

	estimateCmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the wait for an appointment time",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, _ := cmd.Flags().GetInt64("doctor")
			departmentID, _ := cmd.Flags().GetInt64("department")
			at, _ := cmd.Flags().GetString("at")

			scheduledAt, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return apperrors.NewInvalidInputError(fmt.Sprintf("--at must be RFC 3339, got %q", at))
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				wait, err := a.scheduler.EstimateWait(ctx, doctorID, departmentID, scheduledAt)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"estimated_wait_minutes": wait})
			})
		},
	}
	estimateCmd.Flags().Int64("doctor", 0, "Doctor ID")
	estimateCmd.Flags().Int64("department", 0, "Department ID")
	estimateCmd.Flags().String("at", "", "Appointment time (RFC 3339)")
	_ = estimateCmd.MarkFlagRequired("doctor")
	_ = estimateCmd.MarkFlagRequired("at")

	optimizeCmd := &cobra.Command{
		Use:   "optimize <department-id>",
		Short: "Reassign queue numbers by priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			departmentID, err := parseID(args[0], "department id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.scheduler.OptimizeQueue(ctx, departmentID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	bookCmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetInt64("patient")
			doctorID, _ := cmd.Flags().GetInt64("doctor")
			departmentID, _ := cmd.Flags().GetInt64("department")
			at, _ := cmd.Flags().GetString("at")
			kind, _ := cmd.Flags().GetString("type")

			scheduledAt, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return apperrors.NewInvalidInputError(fmt.Sprintf("--at must be RFC 3339, got %q", at))
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				appt, err := a.scheduler.BookAppointment(ctx, services.BookingRequest{
					PatientID:    patientID,
					DoctorID:     doctorID,
					DepartmentID: departmentID,
					ScheduledAt:  scheduledAt,
					Type:         entities.AppointmentType(kind),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), appt)
			})
		},
	}
	bookCmd.Flags().Int64("patient", 0, "Patient ID")
	bookCmd.Flags().Int64("doctor", 0, "Doctor ID")
	bookCmd.Flags().Int64("department", 0, "Department ID")
	bookCmd.Flags().String("at", "", "Appointment time (RFC 3339)")
	bookCmd.Flags().String("type", string(entities.AppointmentTypeRegular), "regular, follow-up or emergency")
	_ = bookCmd.MarkFlagRequired("patient")
	_ = bookCmd.MarkFlagRequired("doctor")
	_ = bookCmd.MarkFlagRequired("at")

	statusCmd := &cobra.Command{
		Use:   "status <appointment-id> <status>",
		Short: "Move an appointment to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appointmentID, err := parseID(args[0], "appointment id")
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				appt, err := a.scheduler.UpdateAppointmentStatus(ctx, appointmentID, entities.AppointmentStatus(args[1]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), appt)
			})
		},
	}

	cmd.AddCommand(estimateCmd, optimizeCmd, bookCmd, statusCmd)
	return cmd
}

func forecastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Manage demand forecasts",
	}

	warmCmd := &cobra.Command{
		Use:   "warm",
		Short: "Pre-fetch demand predictions for every hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				warmed, err := a.warmer.WarmForecasts(ctx, days)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"warmed": warmed})
			})
		},
	}
	warmCmd.Flags().Int("days", 7, "Days ahead to pre-fetch")

	cmd.AddCommand(warmCmd)
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect resource events",
	}

	watchCmd := &cobra.Command{
		Use:   "watch [channel]",
		Short: "Print resource events until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := providers.EventChannelResourceUpdates
			if len(args) == 1 {
				channel = args[0]
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.bus == nil {
					return apperrors.NewInvalidInputError("events watch requires an EVENTS_BACKEND")
				}
				events, err := a.bus.Subscribe(ctx, channel)
				if err != nil {
					return err
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case event, ok := <-events:
						if !ok {
							return nil
						}
						if err := printJSON(cmd.OutOrStdout(), event); err != nil {
							return err
						}
					}
				}
			})
		},
	}

	cmd.AddCommand(watchCmd)
	return cmd
}
