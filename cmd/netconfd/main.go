// Command netconfd runs a NETCONF server over SSH and TLS endpoints,
// dispatching sessions from a poll set across worker goroutines.
package main

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/nclog"
	"github.com/netkit-io/netconf/rpc"
	"github.com/netkit-io/netconf/schema"
	"github.com/netkit-io/netconf/server"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

type sshEndpointConfig struct {
	Name           string
	Address        string
	Port           int
	HostkeyPath    string   `mapstructure:"hostkey_path"`
	Banner         string
	AuthMethods    []string `mapstructure:"auth_methods"`
	AuthAttempts   uint16   `mapstructure:"auth_attempts"`
	AuthTimeout    int      `mapstructure:"auth_timeout"`
	AuthorizedKeys []struct {
		PubkeyPath string `mapstructure:"pubkey_path"`
		Username   string
	} `mapstructure:"authorized_keys"`
}

type tlsEndpointConfig struct {
	Name     string
	Address  string
	Port     int
	Cert     string
	Key      string
	CAFiles  []string `mapstructure:"trusted_ca_files"`
	CADirs   []string `mapstructure:"trusted_ca_dirs"`
	CRLFiles []string `mapstructure:"crl_files"`
	CTN      []struct {
		ID          int
		Fingerprint string
		MapType     string `mapstructure:"map_type"`
		Name        string
	} `mapstructure:"ctn_list"`
}

type config struct {
	Verbosity        string
	HelloTimeout     int    `mapstructure:"hello_timeout"`
	IdleTimeout      int    `mapstructure:"idle_timeout"`
	SchemaSearchpath string `mapstructure:"schema_searchpath"`
	WithDefaults     string `mapstructure:"with_defaults"`
	MetricsListen    string `mapstructure:"metrics_listen"`
	Workers          int
	SSH              []sshEndpointConfig
	TLS              []tlsEndpointConfig
}

func main() {
	var cfgFile string
	root := &cobra.Command{
		Use:           "netconfd",
		Short:         "NETCONF server daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgFile)
		},
	}
	root.Flags().StringVarP(&cfgFile, "config", "c", "", "configuration file")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config, error) {
	v := viper.New()
	v.SetDefault("verbosity", "error")
	v.SetDefault("hello_timeout", 60)
	v.SetDefault("workers", 4)
	v.SetEnvPrefix("netconfd")
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("netconfd")
		v.AddConfigPath("/etc/netconfd")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	cfg := &config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfgFile string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	log := nclog.New(os.Stderr, nclog.ParseVerbosity(cfg.Verbosity))

	var ctx *schema.Context
	if cfg.SchemaSearchpath != "" {
		ctx = schema.NewContext(cfg.SchemaSearchpath).Shared()
	}

	srv := server.New(server.Options{
		Schema:       ctx,
		WithDefaults: cfg.WithDefaults,
		HelloTimeout: time.Duration(cfg.HelloTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
		Logger:       &log,
	})
	defer srv.Close()

	for _, ep := range cfg.SSH {
		if err := configureSSH(srv, ep); err != nil {
			return err
		}
		if err := srv.AddEndpoint(ep.Name, transport.KindSSH, ep.Address, ep.Port); err != nil {
			return err
		}
	}
	for _, ep := range cfg.TLS {
		if err := configureTLS(srv, ep); err != nil {
			return err
		}
		if err := srv.AddEndpoint(ep.Name, transport.KindTLS, ep.Address, ep.Port); err != nil {
			return err
		}
	}

	if cfg.MetricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener")
			}
		}()
	}

	ps := server.NewPollSet(rpcHandler(ctx))
	ps.IdleTimeout = time.Duration(cfg.IdleTimeout) * time.Second

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	// acceptor: hand established sessions to the poll set
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			sess, err := srv.Accept(time.Second)
			switch {
			case err == nil:
				log.Info().Str("peer", sess.PeerHost()).Uint32("session-id", sess.ID()).
					Msg("session accepted")
				ps.Add(sess)
			case !errors.Is(err, ncerr.ErrTimeout):
				log.Warn().Err(err).Msg("accept")
			}
		}
	}()

	// workers: drain the poll set
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			for {
				select {
				case <-done:
					return
				default:
				}
				res, sess, err := ps.Poll(time.Second)
				if err != nil {
					log.Warn().Err(err).Msg("dispatch")
				}
				if res == server.SessionClosed && sess != nil {
					log.Info().Uint32("session-id", sess.ID()).
						Stringer("reason", sess.TermReason()).Msg("session ended")
				}
			}
		}()
	}

	<-stop
	close(done)
	log.Info().Msg("shutting down")
	return nil
}

// rpcHandler answers <get-schema> from the schema search path and
// rejects anything else; datastore semantics belong to the embedding
// application.
func rpcHandler(ctx *schema.Context) server.RPCHandler {
	return func(sess *session.Session, rpcEl *xmlquery.Node) (string, *ncerr.RPCError) {
		op := firstElement(rpcEl)
		if op == nil {
			return "", ncerr.MissingElement("rpc")
		}
		if op.NamespaceURI == rpc.NSMonitoring && op.Data == "get-schema" {
			if ctx == nil {
				return "", ncerr.OperationFailed(ncerr.WithMessage("no schema searchpath configured"))
			}
			var identifier, version, format string
			if el := op.SelectElement("identifier"); el != nil {
				identifier = strings.TrimSpace(el.InnerText())
			}
			if el := op.SelectElement("version"); el != nil {
				version = strings.TrimSpace(el.InnerText())
			}
			if el := op.SelectElement("format"); el != nil {
				format = strings.TrimSpace(el.InnerText())
			}
			b, err := ctx.LookupSchema(identifier, version, format)
			if err != nil {
				return "", ncerr.InvalidValue(ncerr.WithMessage(err.Error()))
			}
			var out strings.Builder
			out.WriteString(`<data xmlns="` + rpc.NSMonitoring + `">`)
			if err := xml.EscapeText(&out, b); err != nil {
				return "", ncerr.OperationFailed(ncerr.WithMessage(err.Error()))
			}
			out.WriteString(`</data>`)
			return out.String(), nil
		}
		return "", ncerr.OperationNotSupported(
			ncerr.WithType(ncerr.TypeProtocol),
			ncerr.WithMessage(op.Data+" is not served by this daemon"))
	}
}

func firstElement(n *xmlquery.Node) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

func configureSSH(srv *server.Server, ep sshEndpointConfig) error {
	o := srv.SSH()
	if ep.HostkeyPath != "" {
		if err := o.AddHostKeyFile(ep.HostkeyPath); err != nil {
			return err
		}
	}
	if ep.Banner != "" {
		o.SetBanner(ep.Banner)
	}
	if len(ep.AuthMethods) > 0 {
		var methods server.AuthMethod
		for _, m := range ep.AuthMethods {
			switch m {
			case "publickey":
				methods |= server.AuthPublicKey
			case "password":
				methods |= server.AuthPassword
			case "interactive":
				methods |= server.AuthInteractive
			}
		}
		o.SetAuthMethods(methods)
	}
	if ep.AuthAttempts > 0 {
		o.SetAuthAttempts(ep.AuthAttempts)
	}
	if ep.AuthTimeout > 0 {
		o.SetAuthTimeout(time.Duration(ep.AuthTimeout) * time.Second)
	}
	for _, ak := range ep.AuthorizedKeys {
		if err := o.AddAuthorizedKeyFile(ak.PubkeyPath, ak.Username); err != nil {
			return err
		}
	}
	return nil
}

func configureTLS(srv *server.Server, ep tlsEndpointConfig) error {
	o := srv.TLS()
	if err := o.SetCertificateFile(ep.Cert, ep.Key); err != nil {
		return err
	}
	for _, f := range ep.CAFiles {
		if err := o.AddTrustedCAFile(f); err != nil {
			return err
		}
	}
	for _, d := range ep.CADirs {
		if err := o.AddTrustedCADir(d); err != nil {
			return err
		}
	}
	for _, f := range ep.CRLFiles {
		if err := o.AddCRLFile(f); err != nil {
			return err
		}
	}
	for _, e := range ep.CTN {
		o.AddCTN(server.CTNEntry{
			ID:          e.ID,
			Fingerprint: e.Fingerprint,
			MapType:     parseCTNMapType(e.MapType),
			Name:        e.Name,
		})
	}
	return nil
}

func parseCTNMapType(s string) server.CTNMapType {
	switch s {
	case "san-rfc822-name":
		return server.CTNSanRFC822
	case "san-dns-name":
		return server.CTNSanDNS
	case "san-ip-address":
		return server.CTNSanIP
	case "san-any":
		return server.CTNSanAny
	case "common-name":
		return server.CTNCommonName
	default:
		return server.CTNSpecified
	}
}
