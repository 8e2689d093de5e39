package wer

// Dataset holds reference phrases for offline evaluation runs.
var Dataset = []string{
	"hola, gracias por llamar",
	"buenos dias, en que puedo ayudarte",
	"este es un ejemplo de frase",
	"la inteligencia artificial avanza rapidamente",
	"python es un lenguaje muy versatil",
	"la lluvia en sevilla es una pura maravilla",
	"hoy es un buen dia para aprender",
	"los unicornios no existen pero son divertidos",
	"la prueba de audio debe ser clara",
	"las montanas son altas y majestuosas",
	"el cafe de la manana es esencial",
	"la musica relaja la mente y el alma",
	"leer libros abre la puerta al conocimiento",
	"nunca dejes de explorar el mundo",
	"el sol brilla intensamente en verano",
	"las estrellas iluminan la noche",
	"la tecnologia cambia nuestras vidas",
	"programar es crear soluciones",
	"cada dia trae nuevas oportunidades",
	"la practica hace al maestro",
}
