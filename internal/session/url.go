package session

import "net/url"

// PayloadURL encodes the QR payload: <base>/?token=<T>&subject=<S>.
// The token is the sole bearer credential; the QR image is just a rendering
// of this URL.
func PayloadURL(base, token, subject string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := url.Values{}
	q.Set("token", token)
	q.Set("subject", subject)
	u.RawQuery = q.Encode()
	return u.String()
}
