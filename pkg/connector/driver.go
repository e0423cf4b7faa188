package connector

import (
	"fmt"
	"net/url"
	"strings"

	// Both Oracle drivers register through database/sql; THICK_MODE picks
	// one by driver name at startup. No runtime fallback between them.
	_ "github.com/godror/godror"
	_ "github.com/sijms/go-ora/v2"
)

const (
	driverThick = "godror"
	driverThin  = "oracle"
)

// connTarget is the parsed form of ORACLE_CONNECTION_STRING
// (user/password@host:port/service).
type connTarget struct {
	User     string
	Password string
	Connect  string // host:port/service
}

func parseConnectionString(raw string) (connTarget, error) {
	var t connTarget
	at := strings.LastIndexByte(raw, '@')
	if at < 0 {
		return t, Errorf(CodeInvalidArgument, "connection string must be user/password@host:port/service")
	}
	cred, connect := raw[:at], raw[at+1:]
	slash := strings.IndexByte(cred, '/')
	if slash < 0 || connect == "" {
		return t, Errorf(CodeInvalidArgument, "connection string must be user/password@host:port/service")
	}
	t.User = cred[:slash]
	t.Password = cred[slash+1:]
	t.Connect = connect
	if t.User == "" {
		return t, Errorf(CodeInvalidArgument, "connection string has empty user")
	}
	return t, nil
}

// dsn builds the driver-specific data source name.
func (t connTarget) dsn(thick bool, libDir string) string {
	if thick {
		if libDir != "" {
			return fmt.Sprintf("user=%q password=%q connectString=%q libDir=%q",
				t.User, t.Password, t.Connect, libDir)
		}
		return fmt.Sprintf("%s/%s@%s", t.User, t.Password, t.Connect)
	}
	return fmt.Sprintf("oracle://%s:%s@%s",
		url.QueryEscape(t.User), url.QueryEscape(t.Password), t.Connect)
}

func driverName(thick bool) string {
	if thick {
		return driverThick
	}
	return driverThin
}
