package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/geraldochiquemba2/biva-imobiliria-sub001/auth"
	"github.com/geraldochiquemba2/biva-imobiliria-sub001/contract"
	"github.com/geraldochiquemba2/biva-imobiliria-sub001/db"
	"github.com/geraldochiquemba2/biva-imobiliria-sub001/notification"
	"github.com/geraldochiquemba2/biva-imobiliria-sub001/property"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	propertyService := property.NewService(property.NewRepository(pool))
	contractService := contract.NewService(pool, contract.NewRepository(pool), notification.NewTxWriter())
	inbox := notification.NewPGRepository(pool)

	log.Printf("marketplace services ready: auth=%t properties=%t contracts=%t inbox=%t",
		authService != nil, propertyService != nil, contractService != nil, inbox != nil)
}
