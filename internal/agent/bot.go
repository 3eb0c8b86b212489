package agent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/engine"
	"lockstep-server/internal/sim"
	"lockstep-server/pkg/logger"
)

// Bot - "игрок-компьютер" (headless agent). Подключается к серверу так же,
// как обычный клиент, и раз в Interval кадров отправляет случайную, но
// допустимую для своей компании команду.
//
// Жизненный цикл:
//  1. NewBot -> клиент уже создан с симуляцией World.
//  2. engine.Run(ctx, bot, cfg) -> Tick крутит клиента и после каждого
//     кадра вызывает makeMove.
//  3. makeMove смотрит на локальную копию мира и ставит команду через
//     Client.EnqueueLocalCommand. Кадр ей назначит сервер.
type Bot struct {
	Client   *engine.Client
	World    *sim.Simulation
	Interval uint32

	rng       sim.Random
	lastFrame uint32
	log       *logrus.Entry
}

func NewBot(client *engine.Client, world *sim.Simulation, seed uint64, interval uint32) *Bot {
	if interval == 0 {
		interval = 1
	}
	return &Bot{
		Client:   client,
		World:    world,
		Interval: interval,
		rng:      sim.NewRandom(seed),
		log:      logger.Component("bot"),
	}
}

// Tick - один такт клиента и, если пора, ход бота.
func (b *Bot) Tick(now time.Time) error {
	if err := b.Client.Tick(now); err != nil {
		return err
	}
	frame := b.Client.Frame()
	if !b.Client.Active() || frame-b.lastFrame < b.Interval {
		return nil
	}
	b.lastFrame = frame
	b.makeMove()
	return nil
}

func (b *Bot) Behind() bool { return b.Client.Behind() }

func (b *Bot) AfterTick(ctx context.Context, now time.Time) { b.Client.AfterTick(ctx, now) }

// makeMove - мозг бота. Решение принимается по локальной копии мира,
// которая у всех участников одинакова.
func (b *Bot) makeMove() {
	company := b.Client.Company()
	if company.IsSpectator() {
		return
	}
	w := b.World.World()
	money := w.Companies[company].Money
	if !w.Companies[company].Exists {
		// Своей компании нет: создаем
		b.send(domain.OpCompanyCtrl, 0, domain.CompanyCtrlPayload{Action: domain.CompanyActionNew, Company: company})
		return
	}

	switch roll := b.rng.Range(0, 99); {
	case roll < 10:
		if tile, ok := b.pickTile(func(t sim.Tile) bool { return t.Owner == company }); ok {
			b.send(domain.OpClearTile, tile, domain.ClearTilePayload{})
			return
		}
	case roll < 15 && money > 10_000:
		dest := domain.CompanyID(b.rng.Range(0, domain.MaxCompanies-1))
		if dest != company && w.Companies[dest].Exists {
			b.send(domain.OpGiveMoney, 0, domain.GiveMoneyPayload{Amount: 1_000, Dest: dest})
			return
		}
	}

	kind := domain.TileKindRail
	switch {
	case money > 20_000 && b.rng.Range(0, 3) == 0:
		kind = domain.TileKindStation
	case b.rng.Range(0, 1) == 0:
		kind = domain.TileKindRoad
	}
	if tile, ok := b.pickTile(func(t sim.Tile) bool {
		return t.Kind == domain.TileKindClear && t.Terrain != sim.TerrainWater
	}); ok {
		b.send(domain.OpBuildTile, tile, domain.BuildTilePayload{Kind: kind})
	}
}

// pickTile ищет подходящий тайл, начиная со случайной позиции.
func (b *Bot) pickTile(match func(t sim.Tile) bool) (domain.TileIndex, bool) {
	tiles := b.World.World().Tiles
	start := b.rng.Range(0, len(tiles)-1)
	for i := 0; i < len(tiles); i++ {
		idx := (start + i) % len(tiles)
		if match(tiles[idx]) {
			return domain.TileXY(uint32(idx%sim.MapWidth), uint32(idx/sim.MapWidth), sim.MapLog2X), true
		}
	}
	return 0, false
}

func (b *Bot) send(op domain.OpCode, tile domain.TileIndex, p domain.Payload) {
	if err := b.Client.EnqueueLocalCommand(op, tile, p, domain.CallbackNone, 0); err != nil {
		b.log.WithError(err).WithField("op", op).Debug("bot command not queued")
	}
}
