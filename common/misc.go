package common

import (
	"os"

	"github.com/fundwit/go-commons/types"
	"github.com/sony/sonyflake"
)

// NewIdWorker falls back to a pid based machine id when no private address is available.
func NewIdWorker() *sonyflake.Sonyflake {
	if w := sonyflake.NewSonyflake(sonyflake.Settings{}); w != nil {
		return w
	}
	return sonyflake.NewSonyflake(sonyflake.Settings{
		MachineID: func() (uint16, error) { return uint16(os.Getpid()), nil },
	})
}

func NextId(idWorker *sonyflake.Sonyflake) types.ID {
	id, err := idWorker.NextID()
	if err != nil {
		panic(err)
	}
	return types.ID(id)
}
