package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return new(big.Int), nil
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asHashes(value interface{}) ([]common.Hash, error) {
	switch v := value.(type) {
	case [][32]byte:
		out := make([]common.Hash, len(v))
		for i, id := range v {
			out[i] = common.Hash(id)
		}
		return out, nil
	case []common.Hash:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported bytes32[] type %T", value)
	}
}

func asString(value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("unsupported string type %T", value)
	}
	return s, nil
}

// bigInts converts every value into *big.Int, naming the first bad field.
func bigInts(values []interface{}, names ...string) ([]*big.Int, error) {
	if len(values) < len(names) {
		return nil, fmt.Errorf("expected %d values, got %d", len(names), len(values))
	}
	out := make([]*big.Int, len(names))
	for i, name := range names {
		v, err := asBigInt(values[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[i] = v
	}
	return out, nil
}
