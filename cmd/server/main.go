package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"restaurant-service/internal/controllers/http"
	"restaurant-service/internal/infra"
	mmysql "restaurant-service/internal/infra/mysql"
	"restaurant-service/internal/infra/rabbitmq"
	mysqlrepo "restaurant-service/internal/repository/mysql"
	"restaurant-service/internal/services"
)

func main() {
	db, err := mmysql.NewMySQLFromEnv()
	if err != nil {
		log.Fatalf("db: connect: %v", err)
	}

	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	orderRepo := mysqlrepo.NewOrderRepository(db)
	reservationRepo := mysqlrepo.NewReservationRepository(db)

	paymentClient := infra.NewPaymentClient(
		os.Getenv("PAYMENT_GATEWAY_URL"),
		os.Getenv("PAYMENT_SECRET_KEY"),
		5*time.Second,
	)
	emailClient := infra.NewEmailClient(
		os.Getenv("EMAIL_SERVICE_URL"),
		os.Getenv("EMAIL_API_KEY"),
		5*time.Second,
	)

	publisher, err := rabbitmq.NewPublisher(os.Getenv("RABBITMQ_URL"), "restaurant.exchange")
	if err != nil {
		log.Fatalf("failed to init publisher: %v", err)
	}
	defer publisher.Close()

	orderService := services.NewOrderService(orderRepo, paymentClient, emailClient, publisher)
	reservationService := services.NewReservationService(reservationRepo, emailClient, publisher)

	redisClient := redis.NewClient(&redis.Options{
		Addr:         os.Getenv("REDIS_HOST") + ":6379",
		DB:           0,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	orderService.SetRedisClient(redisClient)
	reservationService.SetRedisClient(redisClient)

	handler := http.NewHandler(orderService, reservationService, db, os.Getenv("PAYMENT_WEBHOOK_SECRET"))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	handler.RegisterRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting restaurant service on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server run: %v", err)
	}
}
