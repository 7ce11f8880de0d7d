package source

import (
	"fmt"

	"github.com/hitoshi/subwatch/internal/config"
	"github.com/hitoshi/subwatch/internal/security"
)

// New はSOURCE_MODEに対応するSource実装を生成する。
// 外向きHTTPクライアントはすべてSSRFガード付きで生成される。
func New(cfg *config.Config, guard security.SSRFGuardService, sanitizer security.ContentSanitizerService) (Source, error) {
	httpClient := guard.NewSafeClient(cfg.FetchTimeout)

	switch cfg.SourceMode {
	case config.SourceModeAPI:
		return NewAPIClient(httpClient, cfg.RedditClientID, cfg.RedditClientSecret, cfg.RedditUserAgent)
	case config.SourceModePublic:
		return NewPublicClient(httpClient, cfg.RedditUserAgent), nil
	case config.SourceModeFeed:
		return NewFeedClient(httpClient, cfg.RedditUserAgent, sanitizer), nil
	default:
		return nil, fmt.Errorf("unknown source mode: %s", cfg.SourceMode)
	}
}
