package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"position-engine/config"
	"position-engine/gateway"
)

// 打印交易对的价格/数量精度与最小名义，用于填写 paper 模式的 symbol 配置。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "", "查询的交易对（默认取配置中的 symbol.name）")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	filter := strings.ToUpper(strings.TrimSpace(*symbol))
	if filter == "" {
		filter = cfg.Symbol.Name
	}

	client := gateway.NewBinanceRESTClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sc, err := client.GetMarketConstraints(ctx, filter)
	if err != nil {
		log.Fatalf("获取交易对信息失败: %v", err)
	}
	fmt.Printf("%s\n", filter)
	fmt.Printf("  TickSize=%.8f MinPrice=%.8f\n", sc.TickSize, sc.MinPrice)
	fmt.Printf("  StepSize=%.8f MinQty=%.8f MaxQty=%.2f\n", sc.StepSize, sc.MinQty, sc.MaxQty)
	fmt.Printf("  MinNotional=%.4f\n", sc.MinNotional)
}
