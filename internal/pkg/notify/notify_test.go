package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/database"
)

func TestDecideVoiceCall(t *testing.T) {
	tests := []struct {
		name       string
		ctx        CallContext
		wantAction string
		wantReason string
	}{
		{
			name:       "completed call during business hours",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "completed", AutoSMSEnabled: true, Ready: true},
			wantAction: ActionNoSMS,
		},
		{
			name:       "failed call fires missed-call sms",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "failed", AutoSMSEnabled: true, Ready: true},
			wantAction: ActionMissedCall,
		},
		{
			name:       "no-answer normalizes to failed",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "no-answer", AutoSMSEnabled: true, Ready: true},
			wantAction: ActionMissedCall,
		},
		{
			name:       "busy call without matched tenant stays silent",
			ctx:        CallContext{CallStatus: "busy", AutoSMSEnabled: true, Ready: true},
			wantAction: ActionNoSMS,
		},
		{
			name:       "ringing is not a missed call",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "ringing", AutoSMSEnabled: true, Ready: true},
			wantAction: ActionNoSMS,
		},
		{
			name:       "shutting down sends unavailable",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "completed", AutoSMSEnabled: true, Ready: true, ShuttingDown: true},
			wantAction: ActionUnavailable,
			wantReason: ReasonShuttingDown,
		},
		{
			name:       "not ready sends unavailable",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "completed", AutoSMSEnabled: true, Ready: false},
			wantAction: ActionUnavailable,
			wantReason: ReasonNotReady,
		},
		{
			name:       "after hours sends unavailable",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "completed", AutoSMSEnabled: true, Ready: true, AfterHours: true},
			wantAction: ActionUnavailable,
			wantReason: ReasonAfterHours,
		},
		{
			name:       "shutting down outranks other reasons",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "completed", AutoSMSEnabled: true, Ready: false, ShuttingDown: true, AfterHours: true},
			wantAction: ActionUnavailable,
			wantReason: ReasonShuttingDown,
		},
		{
			name:       "failed after-hours call fires both",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "canceled", AutoSMSEnabled: true, Ready: true, AfterHours: true},
			wantAction: ActionBoth,
			wantReason: ReasonAfterHours,
		},
		{
			name:       "auto-sms disabled suppresses unavailable but not missed-call",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "failed", AutoSMSEnabled: false, Ready: false},
			wantAction: ActionMissedCall,
		},
		{
			name:       "auto-sms disabled and completed stays silent",
			ctx:        CallContext{BusinessID: "biz_1", CallStatus: "completed", AutoSMSEnabled: false, Ready: false},
			wantAction: ActionNoSMS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideVoiceCall(tt.ctx)
			assert.Equal(t, tt.wantAction, got.Action)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestNewTwilioClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	_, err := NewTwilioClient()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWILIO_ACCOUNT_SID")
	assert.Contains(t, err.Error(), "TWILIO_FROM_NUMBER")
	assert.NotContains(t, err.Error(), "TWILIO_AUTH_TOKEN")
}

func TestTwilioClientSendSMS(t *testing.T) {
	var gotPath, gotAuthUser, gotTo, gotFrom, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuthUser, _, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotBody = r.PostFormValue("Body")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	c := &twilioClient{
		accountSID: "AC42",
		authToken:  "secret",
		fromNumber: "+15550009999",
		baseURL:    srv.URL,
		httpClient: srv.Client(),
	}

	sid, err := c.SendSMS(context.Background(), "+15550001111", "hello")
	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)
	assert.Equal(t, "/Accounts/AC42/Messages.json", gotPath)
	assert.Equal(t, "AC42", gotAuthUser)
	assert.Equal(t, "+15550001111", gotTo)
	assert.Equal(t, "+15550009999", gotFrom)
	assert.Equal(t, "hello", gotBody)
}

func TestTwilioClientSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	c := &twilioClient{
		accountSID: "AC42",
		authToken:  "secret",
		fromNumber: "+15550009999",
		baseURL:    srv.URL,
		httpClient: srv.Client(),
	}

	_, err := c.SendSMS(context.Background(), "bogus", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "21211")
	assert.Contains(t, err.Error(), "Invalid 'To' Phone Number")
}

// fakeProvider scripts SMS/call outcomes per attempt.
type fakeProvider struct {
	smsErrs  []error
	sms      []string
	smsTo    []string
	calls    []string
	callsErr error
}

func (f *fakeProvider) SendSMS(_ context.Context, to, body string) (string, error) {
	var err error
	if len(f.smsErrs) > 0 {
		err = f.smsErrs[0]
		f.smsErrs = f.smsErrs[1:]
	}
	if err != nil {
		return "", err
	}
	f.sms = append(f.sms, body)
	f.smsTo = append(f.smsTo, to)
	return "SM123", nil
}

func (f *fakeProvider) MakeCall(_ context.Context, to, twiml string) (string, error) {
	if f.callsErr != nil {
		return "", f.callsErr
	}
	f.calls = append(f.calls, to)
	return "CA123", nil
}

func newDispatcherTest(t *testing.T) (*Dispatcher, *fakeProvider, *repository.Repositories) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "notify_test.db")
	require.NoError(t, database.MigrateSQLite(path))

	db, err := gorm.Open(sqlite.Open(database.SQLiteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repos := repository.NewRepositories(db)
	provider := &fakeProvider{}
	return NewDispatcher(provider, repos.SmsLog, repos.EmergencyLog), provider, repos
}

func confirmedBooking() *models.Booking {
	return &models.Booking{
		ID:            "bk_1",
		BusinessID:    "biz_1",
		StartUTC:      time.Date(2026, 1, 12, 15, 0, 0, 0, time.UTC),
		EndUTC:        time.Date(2026, 1, 12, 16, 0, 0, 0, time.UTC),
		Status:        models.BOOKING_STATUS_CONFIRMED,
		CustomerName:  "Dana",
		CustomerPhone: "+15550001111",
		ServiceType:   "repair",
	}
}

func TestSendBookingConfirmation(t *testing.T) {
	t.Run("confirmed booking is texted in local time", func(t *testing.T) {
		d, provider, _ := newDispatcherTest(t)

		res := d.SendBookingConfirmation(context.Background(), confirmedBooking(), "America/Chicago")

		require.True(t, res.OK)
		require.Len(t, provider.sms, 1)
		assert.Contains(t, provider.sms[0], "Hi Dana")
		assert.Contains(t, provider.sms[0], "9:00 AM")
		assert.Contains(t, provider.sms[0], "Confirmation ID: bk_1")
		assert.Equal(t, "+15550001111", provider.smsTo[0])
	})

	t.Run("pending booking is skipped", func(t *testing.T) {
		d, provider, _ := newDispatcherTest(t)
		b := confirmedBooking()
		b.Status = models.BOOKING_STATUS_PENDING

		res := d.SendBookingConfirmation(context.Background(), b, "America/Chicago")

		assert.True(t, res.Skipped)
		assert.False(t, res.OK)
		assert.Empty(t, provider.sms)
	})

	t.Run("missing phone is skipped", func(t *testing.T) {
		d, provider, _ := newDispatcherTest(t)
		b := confirmedBooking()
		b.CustomerPhone = ""

		res := d.SendBookingConfirmation(context.Background(), b, "America/Chicago")

		assert.True(t, res.Skipped)
		assert.Empty(t, provider.sms)
	})
}

func TestSendAutoSMSToCallerDedupes(t *testing.T) {
	d, provider, repos := newDispatcherTest(t)
	ctx := context.Background()

	first := d.SendAutoSMSToCaller(ctx, "biz_1", "req_1", "+15550001111", "We will call you back")
	require.True(t, first.OK)

	second := d.SendAutoSMSToCaller(ctx, "biz_1", "req_1", "+15550001111", "We will call you back")
	assert.True(t, second.Skipped)
	assert.Len(t, provider.sms, 1)

	// A different request id is a fresh dispatch.
	third := d.SendAutoSMSToCaller(ctx, "biz_1", "req_2", "+15550001111", "We will call you back")
	assert.True(t, third.OK)
	assert.Len(t, provider.sms, 2)

	exists, err := repos.SmsLog.ExistsByDedupeKey("biz_1:req_1:auto_sms")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSendUnavailableSMSKeysOnReason(t *testing.T) {
	d, provider, _ := newDispatcherTest(t)
	ctx := context.Background()

	first := d.SendUnavailableSMS(ctx, "biz_1", "req_1", "+15550001111", "We are closed", ReasonAfterHours)
	require.True(t, first.OK)

	// Same request, different reason: distinct dedupe key, distinct send.
	second := d.SendUnavailableSMS(ctx, "biz_1", "req_1", "+15550001111", "We are closed", ReasonShuttingDown)
	assert.True(t, second.OK)
	assert.Len(t, provider.sms, 2)
}

func TestSendDedupedRecordsFailure(t *testing.T) {
	d, provider, repos := newDispatcherTest(t)
	provider.smsErrs = []error{errors.New("Twilio error")}

	res := d.SendAutoSMSToCaller(context.Background(), "biz_1", "req_1", "+15550001111", "hello")
	require.False(t, res.OK)
	assert.Contains(t, res.Error, "Twilio error")
	assert.Empty(t, provider.sms)

	exists, err := repos.SmsLog.ExistsByDedupeKey("biz_1:req_1:auto_sms")
	require.NoError(t, err)
	assert.True(t, exists, "failed sends still hold their dedupe key")
}

func TestHandleEmergency(t *testing.T) {
	profile := func() *models.EffectiveProfile {
		return &models.EffectiveProfile{
			BusinessID:         "biz_1",
			Timezone:           "America/Chicago",
			EmergencySMSPhone:  "+15550002222",
			EmergencyCallPhone: "+15550003333",
			EmergencyRetries:   2,
			EmergencyRetryWait: 0,
		}
	}

	t.Run("sms escalation is logged", func(t *testing.T) {
		t.Setenv("AUTO_CALL_ON_EMERGENCY", "0")
		d, provider, repos := newDispatcherTest(t)
		b := confirmedBooking()
		b.IsEmergency = true

		escalated := d.HandleEmergency(context.Background(), b, profile(), "req_1")

		assert.True(t, escalated)
		require.Len(t, provider.sms, 1)
		assert.Contains(t, provider.sms[0], "EMERGENCY")
		assert.Equal(t, "+15550002222", provider.smsTo[0])

		logs, err := repos.EmergencyLog.ListByBooking(b.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, models.ESCALATION_TYPE_SMS, logs[0].EscalationType)
		assert.Equal(t, models.ESCALATION_STATUS_SENT, logs[0].Status)
	})

	t.Run("failed first attempt is retried and both logged", func(t *testing.T) {
		t.Setenv("AUTO_CALL_ON_EMERGENCY", "0")
		d, provider, repos := newDispatcherTest(t)
		provider.smsErrs = []error{errors.New("Twilio error")}
		b := confirmedBooking()

		escalated := d.HandleEmergency(context.Background(), b, profile(), "req_1")

		assert.True(t, escalated)
		logs, err := repos.EmergencyLog.ListByBooking(b.ID)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, models.ESCALATION_STATUS_FAILED, logs[0].Status)
		assert.Equal(t, "Twilio error", logs[0].Error)
		assert.Equal(t, models.ESCALATION_STATUS_SENT, logs[1].Status)
	})

	t.Run("duplicate request does not escalate twice", func(t *testing.T) {
		t.Setenv("AUTO_CALL_ON_EMERGENCY", "0")
		d, provider, repos := newDispatcherTest(t)
		b := confirmedBooking()
		p := profile()

		require.True(t, d.HandleEmergency(context.Background(), b, p, "req_1"))
		assert.False(t, d.HandleEmergency(context.Background(), b, p, "req_1"))

		assert.Len(t, provider.sms, 1)
		logs, err := repos.EmergencyLog.ListByBooking(b.ID)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})

	t.Run("no technician phone anywhere means no escalation", func(t *testing.T) {
		t.Setenv("AUTO_CALL_ON_EMERGENCY", "0")
		t.Setenv("EMERGENCY_PHONE", "")
		d, provider, repos := newDispatcherTest(t)
		b := confirmedBooking()
		p := profile()
		p.EmergencySMSPhone = ""
		p.EmergencyCallPhone = ""

		escalated := d.HandleEmergency(context.Background(), b, p, "req_1")

		assert.False(t, escalated)
		assert.Empty(t, provider.sms)
		logs, err := repos.EmergencyLog.ListByBooking(b.ID)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})

	t.Run("auto call places a voice call", func(t *testing.T) {
		t.Setenv("AUTO_CALL_ON_EMERGENCY", "1")
		d, provider, repos := newDispatcherTest(t)
		b := confirmedBooking()

		escalated := d.HandleEmergency(context.Background(), b, profile(), "req_1")

		assert.True(t, escalated)
		require.Len(t, provider.calls, 1)
		assert.Equal(t, "+15550003333", provider.calls[0])

		logs, err := repos.EmergencyLog.ListByBooking(b.ID)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, models.ESCALATION_TYPE_CALL, logs[1].EscalationType)
	})
}
