package httputil

import (
	"net/http"
	"time"
)

type Clients struct {
	Provider *http.Client // provider APIs (search/login/media metadata)
	Media    *http.Client // image downloads, longer timeout
}

func NewClients() *Clients {
	return &Clients{
		Provider: &http.Client{Timeout: 30 * time.Second},
		Media: &http.Client{
			Timeout: 60 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}
