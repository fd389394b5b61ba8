package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fundguard/database"
	"fundguard/logger"
	"fundguard/secret"
	"fundguard/utils"

	"github.com/spf13/cobra"
)

// signalContext Ctrl+C 时取消一次性命令
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newPollCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run a single poll cycle over every active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()
			a.startEvents(ctx)

			poller, _, err := a.newPoller(nil)
			if err != nil {
				return err
			}
			res, err := poller.RunCycle(ctx)
			if err != nil {
				return err
			}
			printf(cmd, "accounts=%d failed=%d errors=%d skipped=%v duration=%v\n",
				res.Accounts, res.Failed, res.Errors, res.Skipped, res.Duration)
			return nil
		},
	}
}

func newResetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Run the daily reset once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()
			a.startEvents(ctx)

			resetter, err := a.newResetter()
			if err != nil {
				return err
			}
			res, err := resetter.RunOnce(ctx)
			if err != nil {
				return err
			}
			printf(cmd, "accounts=%d updated=%d fallback=%d errors=%d skipped=%v\n",
				res.Accounts, res.Updated, res.Fallback, res.Errors, res.Skipped)
			return nil
		},
	}
}

func newPlanCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage challenge plans",
	}

	var (
		name                 string
		dailyPct, maxPct     float64
		dailyFloat, maxFloat bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a plan with daily and max drawdown limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := &database.Plan{
				Name:                 name,
				DailyLimitPercent:    dailyPct,
				MaxLimitPercent:      maxPct,
				DailyLimitIsFloating: dailyFloat,
				MaxLimitIsFloating:   maxFloat,
			}
			if err := validatePlan(plan); err != nil {
				return err
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.db.CreatePlan(cmd.Context(), plan); err != nil {
				return fmt.Errorf("创建计划失败: %w", err)
			}
			printf(cmd, "plan_id=%d\n", plan.ID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "计划名称")
	create.Flags().Float64Var(&dailyPct, "daily", 5, "日回撤限额百分比")
	create.Flags().Float64Var(&maxPct, "max", 10, "总回撤限额百分比")
	create.Flags().BoolVar(&dailyFloat, "daily-floating", false, "日限额以当日峰值为基线")
	create.Flags().BoolVar(&maxFloat, "max-floating", false, "总限额以历史峰值为基线")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}

// validatePlan 限额百分比必须在 (0, 100) 内
func validatePlan(plan *database.Plan) error {
	if strings.TrimSpace(plan.Name) == "" {
		return errors.New("计划名称不能为空")
	}
	if plan.DailyLimitPercent <= 0 || plan.DailyLimitPercent >= 100 {
		return fmt.Errorf("日限额百分比无效: %v", plan.DailyLimitPercent)
	}
	if plan.MaxLimitPercent <= 0 || plan.MaxLimitPercent >= 100 {
		return fmt.Errorf("总限额百分比无效: %v", plan.MaxLimitPercent)
	}
	return nil
}

func newAccountCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage monitored accounts",
	}

	var (
		login, password, server string
		planID                  int64
	)
	connect := &cobra.Command{
		Use:   "connect",
		Short: "Connect to the broker once and register the account for monitoring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			account, err := a.connectAccount(cmd.Context(), login, password, server, planID)
			if err != nil {
				return err
			}
			printf(cmd, "account_id=%d starting_equity=%.2f daily_breach_equity=%.2f\n",
				account.ID, account.StartingEquity, account.DailyBreachEquity)
			return nil
		},
	}
	connect.Flags().StringVar(&login, "login", "", "MetaTrader 登录号")
	connect.Flags().StringVar(&password, "password", "", "只读 (investor) 密码")
	connect.Flags().StringVar(&server, "server", "", "券商服务器名称")
	connect.Flags().Int64Var(&planID, "plan", 0, "计划 ID")
	for _, f := range []string{"login", "password", "server", "plan"} {
		_ = connect.MarkFlagRequired(f)
	}

	cmd.AddCommand(connect)
	return cmd
}

// connectAccount 验证只读密码并登记账户，初始权益取首次连接时的净值
func (a *app) connectAccount(ctx context.Context, login, password, server string, planID int64) (*database.Account, error) {
	plan, err := a.db.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("读取计划 %d 失败: %w", planID, err)
	}
	if existing, err := a.db.GetAccountByLogin(ctx, login, server); err == nil {
		return nil, fmt.Errorf("账户 %s@%s 已存在 (id=%d)", login, server, existing.ID)
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	sessionID, err := a.client.Connect(ctx, login, password, server)
	if err != nil {
		return nil, fmt.Errorf("连接券商失败: %w", err)
	}
	summary, err := a.client.AccountSummary(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("获取账户概况失败: %w", err)
	}

	encrypted, err := a.cipher.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("加密密码失败: %w", err)
	}

	now := utils.NowUTC()
	dailyLimit := summary.Balance * plan.DailyLimitPercent / 100
	account := &database.Account{
		Login:                     login,
		Server:                    server,
		PlanID:                    plan.ID,
		InvestorPasswordEncrypted: encrypted,
		StartingEquity:            summary.Equity,
		DailyStartEquity:          summary.Balance,
		DailyLimitAmount:          dailyLimit,
		DailyBreachEquity:         summary.Balance - dailyLimit,
		ConnectionState:           database.ConnectionDisconnected,
	}
	if err := a.db.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("保存账户失败: %w", err)
	}
	if err := a.db.SaveSession(ctx, account.ID, &database.SessionUpdate{
		SessionID:   sessionID,
		ExpiresAt:   now.Add(a.sessionTTL()),
		ValidatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("保存会话失败: %w", err)
	}

	logger.Info("✅ [账户 %d] %s@%s 已登记，初始权益 %.2f", account.ID, login, server, summary.Equity)
	return account, nil
}

func newSecretCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Credential cipher helpers",
	}

	var key string
	encrypt := &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt an investor password with the configured key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				cfg, err := loadConfig(*configPath)
				if err != nil {
					return err
				}
				key = cfg.Security.EncryptionKey
			}
			cipher, err := secret.NewCipher(key)
			if err != nil {
				return err
			}
			ciphertext, err := cipher.Encrypt(args[0])
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", ciphertext)
			return nil
		},
	}
	encrypt.Flags().StringVar(&key, "key", os.Getenv("FUNDGUARD_ENCRYPTION_KEY"), "加密密钥，默认读取配置")

	cmd.AddCommand(encrypt)
	return cmd
}
