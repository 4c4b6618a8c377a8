package feishu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/httprunner/provisioner"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	"github.com/rs/zerolog"
)

const (
	EnvAppID          = "FEISHU_APP_ID"
	EnvAppSecret      = "FEISHU_APP_SECRET"
	EnvBaseURL        = "FEISHU_BASE_URL"
	EnvStatusAppToken = "WORKLOAD_BITABLE_APP_TOKEN"
	EnvStatusTableID  = "WORKLOAD_BITABLE_TABLE_ID"

	defaultBaseURL       = "https://open.feishu.cn"
	defaultUpdateTimeout = 10 * time.Second
)

// Column names of the workload status table.
const (
	FieldWorkload  = "Workload"
	FieldState     = "State"
	FieldHost      = "Host"
	FieldUpdatedAt = "UpdatedAt"
)

type recordCreator interface {
	Create(ctx context.Context, appToken, tableID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error)
}

type larkAppTableRecordService interface {
	Create(ctx context.Context, req *larkbitable.CreateAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error)
}

type sdkRecordCreator struct {
	svc larkAppTableRecordService
}

func (a sdkRecordCreator) Create(ctx context.Context, appToken, tableID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error) {
	req := larkbitable.NewCreateAppTableRecordReqBuilder().
		AppToken(appToken).
		TableId(tableID).
		AppTableRecord(record).
		Build()
	return a.svc.Create(ctx, req, options...)
}

// Reporter appends workload state transitions to a Feishu bitable.
type Reporter struct {
	api      recordCreator
	appToken string
	tableID  string
	host     string
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

var _ provisioner.StatusReporter = (*Reporter)(nil)

// NewReporterFromEnv constructs a Reporter using environment variables.
// It returns nil without error when none of the variables are set.
//
// Required variables:
//   - FEISHU_APP_ID
//   - FEISHU_APP_SECRET
//   - WORKLOAD_BITABLE_APP_TOKEN
//   - WORKLOAD_BITABLE_TABLE_ID
//
// Optional variables:
//   - FEISHU_BASE_URL (defaults to https://open.feishu.cn)
func NewReporterFromEnv(logger zerolog.Logger) (*Reporter, error) {
	appID := strings.TrimSpace(os.Getenv(EnvAppID))
	appSecret := strings.TrimSpace(os.Getenv(EnvAppSecret))
	appToken := strings.TrimSpace(os.Getenv(EnvStatusAppToken))
	tableID := strings.TrimSpace(os.Getenv(EnvStatusTableID))
	baseURL := strings.TrimSpace(os.Getenv(EnvBaseURL))

	if appID == "" && appSecret == "" && appToken == "" && tableID == "" {
		return nil, nil
	}
	if appID == "" || appSecret == "" {
		return nil, fmt.Errorf("feishu: %s and %s must be set in environment", EnvAppID, EnvAppSecret)
	}
	if appToken == "" || tableID == "" {
		return nil, fmt.Errorf("feishu: %s and %s must be set in environment", EnvStatusAppToken, EnvStatusTableID)
	}

	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelError),
	}
	if baseURL != lark.FeishuBaseUrl {
		opts = append(opts, lark.WithOpenBaseUrl(baseURL))
	}
	client := lark.NewClient(appID, appSecret, opts...)

	return newReporter(sdkRecordCreator{svc: client.Bitable.V1.AppTableRecord}, appToken, tableID, logger), nil
}

func newReporter(api recordCreator, appToken, tableID string, logger zerolog.Logger) *Reporter {
	return &Reporter{
		api:      api,
		appToken: appToken,
		tableID:  tableID,
		host:     hostIdentity(),
		timeout:  defaultUpdateTimeout,
		now:      time.Now,
		logger:   logger,
	}
}

// UpdateWorkloadState writes one row per transition.
func (r *Reporter) UpdateWorkloadState(ctx context.Context, workload string, state provisioner.WorkloadState) error {
	if r == nil || r.api == nil {
		return errors.New("feishu: reporter not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fields := map[string]any{
		FieldWorkload:  workload,
		FieldState:     string(state),
		FieldUpdatedAt: r.now().UnixMilli(),
	}
	if r.host != "" {
		fields[FieldHost] = r.host
	}
	record := larkbitable.NewAppTableRecordBuilder().
		Fields(fields).
		Build()

	resp, err := r.api.Create(ctx, r.appToken, r.tableID, record)
	if err != nil {
		return fmt.Errorf("feishu: create status record request failed: %w", err)
	}
	if resp == nil || resp.ApiResp == nil {
		return errors.New("feishu: empty response when creating status record")
	}
	if err := ensureSDKSuccess("create status record", resp.Success(), resp.Code, resp.Msg, resp.RequestId()); err != nil {
		return err
	}
	if resp.Data != nil && resp.Data.Record != nil {
		r.logger.Debug().Str("record_id", larkcore.StringValue(resp.Data.Record.RecordId)).
			Str("workload", workload).Str("state", string(state)).Msg("feishu: status record created")
	}
	return nil
}

func ensureSDKSuccess(action string, ok bool, code int, msg, logID string) error {
	if ok {
		return nil
	}
	if strings.TrimSpace(logID) == "" {
		return fmt.Errorf("feishu: %s failed code=%d msg=%s", action, code, msg)
	}
	return fmt.Errorf("feishu: %s failed code=%d msg=%s log_id=%s", action, code, msg, logID)
}
