package gcal

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/timed"
	"github.com/ManuelReschke/SlotFox/internal/pkg/tokenvault"
)

const (
	calendarID      = "primary"
	idempotencyProp = "idempotencyKey"
)

// APITimeout is the per-request ceiling for calendar calls. The inline
// booking path uses the tighter FreeBusyBudget/LookupBudget instead.
func APITimeout() time.Duration {
	return time.Duration(env.GetEnvInt("GOOGLE_API_TIMEOUT_MS", 10000)) * time.Millisecond
}

// OAuthConfig builds the Google OAuth2 config from the environment.
func OAuthConfig() (*oauth2.Config, error) {
	clientID := env.GetEnv("GOOGLE_CLIENT_ID", "")
	clientSecret := env.GetEnv("GOOGLE_CLIENT_SECRET", "")
	redirectURI := env.GetEnv("GOOGLE_REDIRECT_URI", "")
	if clientID == "" || clientSecret == "" || redirectURI == "" {
		return nil, ErrOAuthNotConfigured
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{calendar.CalendarScope},
		Endpoint:     google.Endpoint,
	}, nil
}

// ConsentURL builds the consent redirect with PKCE and offline access.
// prompt=consent makes Google return a refresh token on re-connects too.
func ConsentURL(cfg *oauth2.Config, state, challenge string) string {
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode redeems the callback code, sending the PKCE verifier.
func ExchangeCode(ctx context.Context, cfg *oauth2.Config, code, verifier string) (*oauth2.Token, error) {
	return cfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
}

// googleClient is the calendar/v3 backed Client, bound to one business.
type googleClient struct {
	businessID string
	svc        *calendar.Service
}

// NewForBusiness builds a calendar client from the stored credential of a
// single business. A fresh instance is built per flow so that the refresh
// listener can never write one tenant's token into another tenant's row.
func NewForBusiness(ctx context.Context, businessID string, tokens repository.GoogleTokenRepository, vault *tokenvault.Vault) (Client, error) {
	cfg, err := OAuthConfig()
	if err != nil {
		return nil, err
	}

	row, err := tokens.Get(businessID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoTokens
	}
	if err != nil {
		return nil, err
	}

	refresh, err := vault.RefreshToken(row)
	if err != nil {
		if errors.Is(err, tokenvault.ErrCryptoAuth) {
			log.WithField("business_id", businessID).Error("[GCal] Stored refresh token failed authentication, re-consent required")
		}
		return nil, ErrNoTokens
	}

	tok := &oauth2.Token{
		AccessToken:  row.AccessToken,
		RefreshToken: refresh,
		TokenType:    row.TokenType,
		Expiry:       row.ExpiryUTC,
	}

	src := &persistingTokenSource{
		businessID: businessID,
		tokens:     tokens,
		vault:      vault,
		inner:      cfg.TokenSource(context.Background(), tok),
		access:     row.AccessToken,
		refresh:    refresh,
	}

	svc, err := calendar.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, err
	}
	return &googleClient{businessID: businessID, svc: svc}, nil
}

// persistingTokenSource writes refreshed credentials back to storage so a
// restart does not have to refresh again. It is bound to one business; the
// oauth2 refresh path carries no tenant context of its own.
type persistingTokenSource struct {
	businessID string
	tokens     repository.GoogleTokenRepository
	vault      *tokenvault.Vault

	mu      sync.Mutex
	inner   oauth2.TokenSource
	access  string
	refresh string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.inner.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == s.access && (tok.RefreshToken == "" || tok.RefreshToken == s.refresh) {
		return tok, nil
	}

	// Google rotates refresh tokens only occasionally; when it does, the new
	// one must reach storage encrypted, never as plaintext.
	var ct, iv, tag string
	if tok.RefreshToken != "" && tok.RefreshToken != s.refresh {
		ct, iv, tag, err = s.vault.Encrypt(tok.RefreshToken)
		if err != nil {
			log.WithError(err).WithField("business_id", s.businessID).Error("[GCal] Could not encrypt rotated refresh token")
			ct, iv, tag = "", "", ""
		}
	}

	if err := s.tokens.SaveRefreshed(s.businessID, tok.AccessToken, tok.Expiry.UTC(), ct, iv, tag); err != nil {
		// The in-memory token still works; losing the write only costs one
		// extra refresh after a restart.
		log.WithError(err).WithField("business_id", s.businessID).Warn("[GCal] Could not persist refreshed token")
		return tok, nil
	}

	s.access = tok.AccessToken
	if tok.RefreshToken != "" {
		s.refresh = tok.RefreshToken
	}
	log.WithField("business_id", s.businessID).Debug("[GCal] Persisted refreshed access token")
	return tok, nil
}

// FreeBusy returns the busy intervals on the primary calendar in UTC.
func (c *googleClient) FreeBusy(ctx context.Context, timeMin, timeMax time.Time) ([]Interval, error) {
	req := &calendar.FreeBusyRequest{
		TimeMin: timeMin.UTC().Format(time.RFC3339),
		TimeMax: timeMax.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}

	var busy []Interval
	err := withRetry(ctx, FreeBusyBudget, func() error {
		return timed.Run(ctx, "gcal.freebusy", inlineTimeout, func(ctx context.Context) error {
			resp, err := c.svc.Freebusy.Query(req).Context(ctx).Do()
			if err != nil {
				return err
			}
			busy = busy[:0]
			cal, ok := resp.Calendars[calendarID]
			if !ok {
				return nil
			}
			for _, b := range cal.Busy {
				start, errS := time.Parse(time.RFC3339, b.Start)
				end, errE := time.Parse(time.RFC3339, b.End)
				if errS != nil || errE != nil {
					log.WithFields(log.Fields{"start": b.Start, "end": b.End}).Warn("[GCal] Skipping unparseable busy interval")
					continue
				}
				busy = append(busy, Interval{Start: start.UTC(), End: end.UTC()})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return busy, nil
}

// InsertEvent creates the booking event, tagged with the idempotency key so
// a lost response can be recovered by lookup. Single attempt: the booking
// flow owns the retry-and-recover policy around inserts.
func (c *googleClient) InsertEvent(ctx context.Context, input EventInput) (string, error) {
	ev := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Start: &calendar.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: input.Timezone,
		},
		End: &calendar.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: input.Timezone,
		},
	}
	if input.IdempotencyKey != "" {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{idempotencyProp: input.IdempotencyKey},
		}
	}

	var eventID string
	err := timed.Run(ctx, "gcal.events.insert", inlineTimeout, func(ctx context.Context) error {
		created, err := c.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
		if err != nil {
			return err
		}
		eventID = created.Id
		return nil
	})
	if err != nil {
		return "", err
	}
	return eventID, nil
}

// ListEventsByIdempotencyKey finds events tagged with the given key inside
// the window. Used to recover an event id after a lost insert response.
func (c *googleClient) ListEventsByIdempotencyKey(ctx context.Context, timeMin, timeMax time.Time, key string) ([]Event, error) {
	var out []Event
	err := withRetry(ctx, LookupBudget, func() error {
		return timed.Run(ctx, "gcal.events.list", inlineTimeout, func(ctx context.Context) error {
			resp, err := c.svc.Events.List(calendarID).
				PrivateExtendedProperty(idempotencyProp + "=" + key).
				TimeMin(timeMin.UTC().Format(time.RFC3339)).
				TimeMax(timeMax.UTC().Format(time.RFC3339)).
				SingleEvents(true).
				MaxResults(10).
				Context(ctx).Do()
			if err != nil {
				return err
			}
			out = out[:0]
			for _, item := range resp.Items {
				out = append(out, eventFromAPI(item))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEvent removes an event. An already-deleted event counts as success
// so the cancel task stays idempotent.
func (c *googleClient) DeleteEvent(ctx context.Context, eventID string) error {
	err := timed.Run(ctx, "gcal.events.delete", APITimeout(), func(ctx context.Context) error {
		return c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	})
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 404 || apiErr.Code == 410) {
		return nil
	}
	return err
}

func eventFromAPI(item *calendar.Event) Event {
	ev := Event{ID: item.Id}
	if item.Start != nil {
		if item.Start.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, item.Start.DateTime); err == nil {
				ev.Start = t.UTC()
			}
		}
		ev.StartDate = item.Start.Date
	}
	if item.End != nil {
		if item.End.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
				ev.End = t.UTC()
			}
		}
		ev.EndDate = item.End.Date
	}
	return ev
}
