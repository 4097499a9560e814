// Package ingest loads tabular address inputs from local files, HTTP, and
// FTP sources, handling separator sniffing, legacy encodings, and XLSX
// workbooks, and resolves the semantic field mapping for a table.
package ingest

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/resilience"
)

// Opener resolves input sources to readers.
type Opener struct {
	Client  *http.Client
	Timeout time.Duration
}

// Open resolves a source to a reader. Supported schemes: plain file paths,
// http://, https://, and ftp://. The caller closes the reader.
func (o *Opener) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return o.openHTTP(ctx, source)
	case strings.HasPrefix(source, "ftp://"):
		return o.openFTP(ctx, source)
	default:
		f, err := os.Open(source)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", source)
		}
		return f, nil
	}
}

func (o *Opener) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	client := o.Client
	if client == nil {
		timeout := o.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	// Transient failures (5xx, network resets) are retried with backoff.
	return resilience.RunVal(ctx, resilience.SourceFetchPolicy(), func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: build request %s", rawURL)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: get %s", rawURL)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err := eris.Errorf("ingest: get %s: http status %d", rawURL, resp.StatusCode)
			if resilience.RetryableStatus(resp.StatusCode) {
				return nil, resilience.Retryable(err, resp.StatusCode)
			}
			return nil, err
		}
		return resp.Body, nil
	})
}

func (o *Opener) openFTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: parse ftp url")
	}
	host := u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" {
		return nil, eris.New("ingest: empty path in ftp url")
	}

	timeout := o.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	zap.L().Debug("ingest: ftp connect", zap.String("host", host), zap.String("path", u.Path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: ftp dial")
	}
	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "ingest: ftp login")
	}
	resp, err := conn.Retr(u.Path)
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "ingest: ftp retrieve")
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// ftpConnReader ties the FTP data connection to the control connection so
// closing the reader also quits the session.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "ingest: close ftp response")
	}
	return eris.Wrap(quitErr, "ingest: quit ftp connection")
}
