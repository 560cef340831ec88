// Package config loads the verifier profile a process signs and aggregates
// against. Tag values, the EntryPoint and the chain are pinned per target
// deployment, never inferred.
package config

import (
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin/binding"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/OpenID3/openid3-go/operator"
	"github.com/OpenID3/openid3-go/signature"
	"github.com/OpenID3/openid3-go/userop"
)

// EnvPrefix prefixes environment overrides, e.g. OPENID3_CHAIN_ID or
// OPENID3_TAGS_OPERATOR.
const EnvPrefix = "OPENID3"

// Tags are the per-mode signature tag bytes.
type Tags struct {
	Passkey  uint8 `mapstructure:"passkey"`
	Operator uint8 `mapstructure:"operator"`
	ZkOIDC   uint8 `mapstructure:"zk_oidc"`
}

// AMQP locates the exchange attestations are forwarded to.
type AMQP struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

// Profile is one target deployment.
type Profile struct {
	EntryPoint               string `mapstructure:"entry_point"                binding:"required,eth_addr"`
	ChainID                  uint64 `mapstructure:"chain_id"                   binding:"required"`
	RPCURL                   string `mapstructure:"rpc_url"`
	Tags                     Tags   `mapstructure:"tags"`
	LowS                     bool   `mapstructure:"low_s"`
	OperatorOrder            string `mapstructure:"operator_order"             binding:"omitempty,oneof=as-given ascending"`
	RejectDuplicateOperators bool   `mapstructure:"reject_duplicate_operators"`
	AMQP                     AMQP   `mapstructure:"amqp"`
	LogLevel                 string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	def := signature.DefaultProfile()
	v.SetDefault("entry_point", "")
	v.SetDefault("chain_id", 0)
	v.SetDefault("rpc_url", "")
	v.SetDefault("tags.passkey", def.PasskeyTag)
	v.SetDefault("tags.operator", def.OperatorTag)
	v.SetDefault("tags.zk_oidc", def.ZkOIDCTag)
	v.SetDefault("low_s", def.LowS)
	v.SetDefault("operator_order", def.Operators.Order.String())
	v.SetDefault("reject_duplicate_operators", def.Operators.RejectDuplicates)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "openid3.attestations")
	v.SetDefault("amqp.routing_key", "attestation")
	v.SetDefault("log_level", zerolog.InfoLevel.String())
}

// Load reads the profile from path (YAML, JSON or TOML by extension) with
// environment overrides applied. An empty path loads defaults and
// environment only.
func Load(path string) (*Profile, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks required fields.
func (p *Profile) Validate() error {
	if err := userop.RegisterValidators(); err != nil {
		return err
	}
	if err := binding.Validator.ValidateStruct(p); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// VerifyingContext is the context operations are hashed for.
func (p *Profile) VerifyingContext() userop.VerifyingContext {
	return userop.VerifyingContext{
		EntryPoint: common.HexToAddress(p.EntryPoint),
		ChainID:    new(big.Int).SetUint64(p.ChainID),
	}
}

// OperatorPolicy is the multi-signer layout.
func (p *Profile) OperatorPolicy() (operator.Policy, error) {
	order, err := operator.ParseOrder(p.OperatorOrder)
	if err != nil {
		return operator.Policy{}, err
	}
	return operator.Policy{Order: order, RejectDuplicates: p.RejectDuplicateOperators}, nil
}

// SignatureProfile is the tag and signing configuration.
func (p *Profile) SignatureProfile() (signature.Profile, error) {
	policy, err := p.OperatorPolicy()
	if err != nil {
		return signature.Profile{}, err
	}
	return signature.Profile{
		PasskeyTag:  p.Tags.Passkey,
		OperatorTag: p.Tags.Operator,
		ZkOIDCTag:   p.Tags.ZkOIDC,
		LowS:        p.LowS,
		Operators:   policy,
	}, nil
}

// Logger returns a zerolog logger at the configured level writing to w, or
// to stderr when w is nil.
func (p *Profile) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(p.LogLevel)
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "log level %q", p.LogLevel)
	}
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
