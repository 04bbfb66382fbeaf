package rewards

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/internal/entity"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const viewIDPrefix = "view_"

// NormalizeWebsiteURL trims url and defaults its scheme to https.
func NormalizeWebsiteURL(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return ""
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	return url
}

// AddWebsite registers url for the owner of ownerPublicKey with no funded views.
func (s *Service) AddWebsite(ctx context.Context, url, ownerPublicKey string) (entity.Website, error) {
	url = NormalizeWebsiteURL(url)
	if url == "" || ownerPublicKey == "" {
		return entity.Website{}, errs.NewPublicError(errs.InvalidArgument, "url and owner public key are required")
	}
	owner, err := s.resolver.AddressFromPublicKey(ownerPublicKey)
	if err != nil {
		return entity.Website{}, errs.WithPublicMessage(err, "invalid owner public key")
	}

	site := entity.Website{
		URL:            url,
		Owner:          owner,
		ViewsFunded:    decimal.Zero,
		ViewsCompleted: decimal.Zero,
	}
	err = s.store.Update(func(st *state.State) error {
		if _, ok := st.Websites[url]; ok {
			return errs.NewPublicError(errs.Conflict, "website already exists")
		}
		st.Websites[url] = &site
		return nil
	})
	if err != nil {
		return entity.Website{}, errors.WithStack(err)
	}
	logger.InfoContext(ctx, "Website registered", slogx.String("url", url), slogx.String("owner", owner))
	return site, nil
}

// ListWebsites returns the websites of owner ordered by URL.
func (s *Service) ListWebsites(owner string) []entity.Website {
	var sites []entity.Website
	s.store.View(func(st *state.State) {
		for _, w := range st.Websites {
			if w.Owner == owner {
				sites = append(sites, *w)
			}
		}
	})
	slices.SortFunc(sites, func(a, b entity.Website) int {
		return strings.Compare(a.URL, b.URL)
	})
	return sites
}

// RemoveWebsite deletes url when owner owns it.
func (s *Service) RemoveWebsite(ctx context.Context, url, owner string) error {
	if url == "" || owner == "" {
		return errs.NewPublicError(errs.InvalidArgument, "url and owner_address are required")
	}
	err := s.store.Update(func(st *state.State) error {
		site, ok := st.Websites[url]
		if !ok {
			return errs.NewPublicError(errs.NotFound, "website does not exist")
		}
		if site.Owner != owner {
			return errs.NewPublicError(errs.Forbidden, "not the owner of this website")
		}
		delete(st.Websites, url)
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}
	logger.InfoContext(ctx, "Website removed", slogx.String("url", url))
	return nil
}

// Assignment is a funded page handed to a view worker.
type Assignment struct {
	URL    string `json:"url"`
	ViewID string `json:"viewId"`
}

// PickFundedWebsite chooses a random website with funded views left.
func (s *Service) PickFundedWebsite() (Assignment, error) {
	var funded []string
	s.store.View(func(st *state.State) {
		for url, w := range st.Websites {
			if w.ViewsFunded.IsPositive() {
				funded = append(funded, url)
			}
		}
	})
	if len(funded) == 0 {
		return Assignment{}, errs.NewPublicError(errs.NotFound, "no website to view right now")
	}
	slices.Sort(funded)
	url := funded[s.random(len(funded))]
	return Assignment{
		URL:    url,
		ViewID: fmt.Sprintf("%s%s_%d", viewIDPrefix, url, s.now().UnixMilli()),
	}, nil
}

// ParseViewID extracts the website URL from a view id of the form view_<url>_<millis>.
func ParseViewID(viewID string) (string, bool) {
	parts := strings.Split(viewID, "_")
	if len(parts) < 3 || parts[0]+"_" != viewIDPrefix {
		return "", false
	}
	url := strings.Join(parts[1:len(parts)-1], "_")
	return url, url != ""
}

// SubmitViewProof consumes one funded view of the website named by viewID and
// queues a reward for worker.
func (s *Service) SubmitViewProof(ctx context.Context, viewID, worker string) error {
	if viewID == "" || worker == "" {
		return errs.NewPublicError(errs.InvalidArgument, "viewId and worker_address are required")
	}
	url, ok := ParseViewID(viewID)
	if !ok {
		return errs.NewPublicError(errs.InvalidArgument, "malformed viewId")
	}

	err := s.store.Update(func(st *state.State) error {
		site, ok := st.Websites[url]
		if !ok || !site.ViewsFunded.IsPositive() {
			return errs.NewPublicError(errs.PaymentRequired, "website has no credit left or does not exist")
		}
		site.ViewsFunded = site.ViewsFunded.Sub(decimal.NewFromInt(1))
		site.ViewsCompleted = site.ViewsCompleted.Add(decimal.NewFromInt(1))
		st.ViewsCompletedSession++
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}

	if err := s.queue.Enqueue(ctx, worker); err != nil {
		// give the view back, the worker was not queued
		_ = s.store.Update(func(st *state.State) error {
			if site, ok := st.Websites[url]; ok {
				site.ViewsFunded = site.ViewsFunded.Add(decimal.NewFromInt(1))
				site.ViewsCompleted = site.ViewsCompleted.Sub(decimal.NewFromInt(1))
			}
			st.ViewsCompletedSession--
			return nil
		})
		return errors.Mark(errors.Wrap(err, "enqueue reward"), errs.UpstreamUnavailable)
	}
	logger.DebugContext(ctx, "View proof accepted", slogx.String("url", url), slogx.String("worker", worker))
	return nil
}

// CreditViews funds the first website of owner that has no funded views with
// amount worth of views. It must be called inside a Store.Update closure.
func (s *Service) CreditViews(st *state.State, owner string, amount decimal.Decimal) (string, decimal.Decimal, bool) {
	price := s.config.PricePerView()
	if !price.IsPositive() {
		return "", decimal.Zero, false
	}
	candidates := lo.Filter(lo.Values(st.Websites), func(w *entity.Website, _ int) bool {
		return w.Owner == owner && w.ViewsFunded.IsZero()
	})
	if len(candidates) == 0 {
		return "", decimal.Zero, false
	}
	target := lo.MinBy(candidates, func(a, b *entity.Website) bool {
		return a.URL < b.URL
	})
	views := amount.Div(price).Floor()
	target.ViewsFunded = target.ViewsFunded.Add(views)
	return target.URL, views, true
}

// Counts returns the number of websites and views completed since start.
func (s *Service) Counts() (websites int, viewsCompleted int64) {
	s.store.View(func(st *state.State) {
		websites = len(st.Websites)
		viewsCompleted = st.ViewsCompletedSession
	})
	return websites, viewsCompleted
}
